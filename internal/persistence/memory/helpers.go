package memory

import "time"

func stringPtr(v string) *string {
	return &v
}

func stringPtrFrom(v *string) *string {
	if v == nil {
		return nil
	}
	return stringPtr(*v)
}

func floatPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	copied := *v
	return &copied
}

func timePtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	copied := *v
	return &copied
}
