package holiday

import "context"

// FakeProvider is an in-memory Provider for tests.
type FakeProvider struct {
	Holidays []Holiday
	Err      error
}

// FetchHolidays returns the fixed Holidays slice, ignoring filters.
func (f *FakeProvider) FetchHolidays(ctx context.Context, countryCode, region string, year int) ([]Holiday, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Holidays, nil
}

var _ Provider = (*FakeProvider)(nil)
