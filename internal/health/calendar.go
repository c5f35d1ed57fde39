package health

import "time"

// WeeklyHours is a trading calendar described by a weekly open/close
// window in a fixed location. Holidays are not modeled; a closed-market
// holiday costs at most one no-op recovery attempt.
type WeeklyHours struct {
	Location  *time.Location
	OpenHour  int
	OpenMin   int
	CloseHour int
	CloseMin  int
	Days      map[time.Weekday]bool
}

// NYSEHours returns regular NYSE trading hours, Monday through Friday
// 09:30-16:00 America/New_York.
func NYSEHours() (*WeeklyHours, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, err
	}
	return &WeeklyHours{
		Location:  loc,
		OpenHour:  9, OpenMin: 30,
		CloseHour: 16, CloseMin: 0,
		Days: map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true,
		},
	}, nil
}

func (w *WeeklyHours) Open(t time.Time) bool {
	lt := t.In(w.Location)
	if !w.Days[lt.Weekday()] {
		return false
	}
	mins := lt.Hour()*60 + lt.Minute()
	return mins >= w.OpenHour*60+w.OpenMin && mins < w.CloseHour*60+w.CloseMin
}
