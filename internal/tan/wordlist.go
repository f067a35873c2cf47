package tan

// words is the fixed mythological word list TAN codes are drawn from,
// formatted as "WORD-NNNN" with WORD chosen uniformly over the list.
var words = []string{
	"ZEUS", "HERA", "ARES", "ATLAS", "HADES", "APOLLO", "ARTEMIS", "HERMES",
	"ATHENA", "CRONUS", "TITAN", "ODIN", "THOR", "LOKI", "FREYA", "BALDR",
	"HEIMDALL", "FENRIR", "RA", "ANUBIS", "ISIS", "OSIRIS", "HORUS", "SETH",
}
