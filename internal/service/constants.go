package service

const (
	// Provider calls issued per dashboard build
	CallActivity    = "activity"
	CallHeartRate   = "heart_rate"
	CallBody        = "body"
	CallSleep       = "sleep"
	CallSleepStages = "sleep_stages"

	// Weight and height are recorded rarely, so they are looked up over a
	// longer window than the charts
	BodyLookbackDays = 90

	// Decimal places for scalar daily stats
	SleepStatPrecision = 1
)
