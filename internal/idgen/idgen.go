package idgen

import (
	"github.com/google/uuid"
)

// ID prefixes for every entity in the data model.
const (
	PrefixFamily           = "fam_"
	PrefixUser             = "usr_"
	PrefixDevice           = "dev_"
	PrefixDeviceCoupling   = "cpl_"
	PrefixAppGroup         = "grp_"
	PrefixAppGroupApp      = "app_"
	PrefixTimeRule         = "rule_"
	PrefixDayTypeOverride  = "day_"
	PrefixTAN              = "tan_"
	PrefixTanSchedule      = "sch_"
	PrefixTanScheduleLog   = "schl_"
	PrefixQuestTemplate    = "qst_"
	PrefixQuestInstance    = "qin_"
	PrefixUsageEvent       = "evt_"
	PrefixUsageRewardRule  = "rwr_"
	PrefixUsageRewardLog   = "rwl_"
	PrefixFamilyInvitation = "inv_"
	PrefixRefreshToken     = "rtk_"
)

func newID(prefix string) string {
	return prefix + uuid.New().String()
}

// NewFamily generates a new family ID with fam_ prefix.
func NewFamily() string { return newID(PrefixFamily) }

// NewUser generates a new user ID with usr_ prefix.
func NewUser() string { return newID(PrefixUser) }

// NewDevice generates a new device ID with dev_ prefix.
func NewDevice() string { return newID(PrefixDevice) }

// NewDeviceCoupling generates a new device coupling ID with cpl_ prefix.
func NewDeviceCoupling() string { return newID(PrefixDeviceCoupling) }

// NewAppGroup generates a new app group ID with grp_ prefix.
func NewAppGroup() string { return newID(PrefixAppGroup) }

// NewAppGroupApp generates a new app group member ID with app_ prefix.
func NewAppGroupApp() string { return newID(PrefixAppGroupApp) }

// NewTimeRule generates a new time rule ID with rule_ prefix.
func NewTimeRule() string { return newID(PrefixTimeRule) }

// NewDayTypeOverride generates a new day type override ID with day_ prefix.
func NewDayTypeOverride() string { return newID(PrefixDayTypeOverride) }

// NewTAN generates a new TAN ID with tan_ prefix.
func NewTAN() string { return newID(PrefixTAN) }

// NewTanSchedule generates a new TAN schedule ID with sch_ prefix.
func NewTanSchedule() string { return newID(PrefixTanSchedule) }

// NewTanScheduleLog generates a new TAN schedule run-log ID with schl_ prefix.
func NewTanScheduleLog() string { return newID(PrefixTanScheduleLog) }

// NewQuestTemplate generates a new quest template ID with qst_ prefix.
func NewQuestTemplate() string { return newID(PrefixQuestTemplate) }

// NewQuestInstance generates a new quest instance ID with qin_ prefix.
func NewQuestInstance() string { return newID(PrefixQuestInstance) }

// NewUsageEvent generates a new usage event ID with evt_ prefix.
func NewUsageEvent() string { return newID(PrefixUsageEvent) }

// NewUsageRewardRule generates a new usage reward rule ID with rwr_ prefix.
func NewUsageRewardRule() string { return newID(PrefixUsageRewardRule) }

// NewUsageRewardLog generates a new usage reward log ID with rwl_ prefix.
func NewUsageRewardLog() string { return newID(PrefixUsageRewardLog) }

// NewFamilyInvitation generates a new family invitation ID with inv_ prefix.
func NewFamilyInvitation() string { return newID(PrefixFamilyInvitation) }

// NewRefreshToken generates a new refresh token ID with rtk_ prefix.
func NewRefreshToken() string { return newID(PrefixRefreshToken) }

// New generates a bare UUID without a prefix, for internal use such as
// device tokens before hashing.
func New() string {
	return uuid.New().String()
}
