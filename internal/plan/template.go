package plan

import "fmt"

// Template builds a simple progressive plan with the given number of weeks.
// Each week holds three runs and a rest day, and the long run grows ten
// percent per week up to 32 km.
func Template(goal string, weeks int) Document {
	if weeks < 1 {
		weeks = 1
	}
	target := 30.0
	doc := Document{
		Meta:        Meta{Goal: goal, Phase: DefaultPhase, WeeklyKMTarget: &target},
		Constraints: DefaultConstraints(),
		Weeks:       make(Weeks, 0, weeks),
	}
	long := 10.0
	for i := 1; i <= weeks; i++ {
		easy := 6.0
		tempo := 8.0
		longRun := long
		mileage := easy + tempo + longRun
		doc.Weeks = append(doc.Weeks, Week{
			Key: fmt.Sprintf("week_%02d", i),
			Plan: WeekPlan{
				MileageTarget: &mileage,
				Sessions: []Session{
					{Type: "Easy Run", DistanceKM: &easy, Intensity: "E", DayOfWeek: "tuesday"},
					{Type: "Tempo Run", DistanceKM: &tempo, Intensity: "T", DayOfWeek: "thursday"},
					{Type: "Long Run", DistanceKM: &longRun, Intensity: "E", DayOfWeek: "saturday"},
					{Type: "Rest", IsRestDay: true, DayOfWeek: "sunday"},
				},
			},
		})
		long = min(float64(int(long*11))/10, 32)
	}
	return doc
}
