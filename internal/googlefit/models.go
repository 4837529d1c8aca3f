package googlefit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Google Fit data types requested by the dashboard
const (
	DataTypeSteps         = "com.google.step_count.delta"
	DataTypeDistance      = "com.google.distance.delta"
	DataTypeCalories      = "com.google.calories.expended"
	DataTypeActiveMinutes = "com.google.active_minutes"
	DataTypeHeartRate     = "com.google.heart_rate.bpm"
	DataTypeWeight        = "com.google.weight"
	DataTypeHeight        = "com.google.height"
)

// Summary data types. dataset:aggregate returns these for the gauge types
// above, one point per bucket with values [average, maximum, minimum].
const (
	DataTypeHeartRateSummary = "com.google.heart_rate.summary"
	DataTypeWeightSummary    = "com.google.weight.summary"
	DataTypeHeightSummary    = "com.google.height.summary"
)

// DataTypeSleepSegment carries sleep stages as intVal points
const DataTypeSleepSegment = "com.google.sleep.segment"

// summaryTypes maps a requested data type to the type the aggregate
// endpoint answers with
var summaryTypes = map[string]string{
	DataTypeHeartRate: DataTypeHeartRateSummary,
	DataTypeWeight:    DataTypeWeightSummary,
	DataTypeHeight:    DataTypeHeightSummary,
}

// AggregatedType returns the data type aggregated points of dataType carry
func AggregatedType(dataType string) string {
	if t, ok := summaryTypes[dataType]; ok {
		return t
	}
	return dataType
}

// IsSummaryType reports whether dataType is an [avg, max, min] summary
func IsSummaryType(dataType string) bool {
	for _, t := range summaryTypes {
		if t == dataType {
			return true
		}
	}
	return false
}

// ActivityTypeSleep is the Google Fit activity type for sleep sessions
const ActivityTypeSleep = 72

// DayMillis is the daily bucket width
const DayMillis = int64(24 * time.Hour / time.Millisecond)

// dataSources maps each data type to its merged derived source
var dataSources = map[string]string{
	DataTypeSteps:         "derived:com.google.step_count.delta:com.google.android.gms:estimated_steps",
	DataTypeDistance:      "derived:com.google.distance.delta:com.google.android.gms:merge_distance_delta",
	DataTypeCalories:      "derived:com.google.calories.expended:com.google.android.gms:merge_calories_expended",
	DataTypeActiveMinutes: "derived:com.google.active_minutes:com.google.android.gms:merge_active_minutes",
	DataTypeHeartRate:     "derived:com.google.heart_rate.bpm:com.google.android.gms:merge_heart_rate_bpm",
	DataTypeWeight:        "derived:com.google.weight:com.google.android.gms:merge_weight",
	DataTypeHeight:        "derived:com.google.height:com.google.android.gms:merge_height",
	DataTypeSleepSegment:  "derived:com.google.sleep.segment:com.google.android.gms:merged",
}

// Int64 is an int64 that decodes from either a JSON number or a JSON
// string. Google encodes 64-bit fields as strings.
type Int64 int64

// UnmarshalJSON implements json.Unmarshaler
func (i *Int64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid int64 %s: %w", data, err)
	}
	*i = Int64(v)
	return nil
}

// MillisTime converts a millisecond epoch value to a time
func (i Int64) MillisTime() time.Time {
	return time.UnixMilli(int64(i))
}

// NanosTime converts a nanosecond epoch value to a time
func (i Int64) NanosTime() time.Time {
	return time.Unix(0, int64(i))
}

// AggregateBy selects one data type for an aggregate request
type AggregateBy struct {
	DataTypeName string `json:"dataTypeName"`
	DataSourceID string `json:"dataSourceId,omitempty"`
}

// BucketByTime sets the aggregation window width
type BucketByTime struct {
	DurationMillis int64 `json:"durationMillis"`
}

// AggregateRequest is the body of a dataset:aggregate call
type AggregateRequest struct {
	AggregateBy     []AggregateBy `json:"aggregateBy"`
	BucketByTime    BucketByTime  `json:"bucketByTime"`
	StartTimeMillis int64         `json:"startTimeMillis"`
	EndTimeMillis   int64         `json:"endTimeMillis"`
}

// NewAggregateRequest builds a daily-bucketed request over [start, end)
func NewAggregateRequest(start, end time.Time, dataTypes ...string) AggregateRequest {
	req := AggregateRequest{
		BucketByTime:    BucketByTime{DurationMillis: DayMillis},
		StartTimeMillis: start.UnixMilli(),
		EndTimeMillis:   end.UnixMilli(),
	}
	for _, dt := range dataTypes {
		req.AggregateBy = append(req.AggregateBy, AggregateBy{
			DataTypeName: dt,
			DataSourceID: dataSources[dt],
		})
	}
	return req
}

// AggregateResponse is the dataset:aggregate response
type AggregateResponse struct {
	Bucket []Bucket `json:"bucket"`
}

// Bucket is one provider-side aggregation window. StartTimeMillis is required.
type Bucket struct {
	StartTimeMillis Int64     `json:"startTimeMillis"`
	EndTimeMillis   Int64     `json:"endTimeMillis"`
	Dataset         []Dataset `json:"dataset"`
}

// Start returns the bucket start time
func (b Bucket) Start() time.Time {
	return b.StartTimeMillis.MillisTime()
}

// Points returns every point of the given data type in the bucket,
// including its aggregated summary form. Each returned point has
// DataTypeName set.
func (b Bucket) Points(dataType string) []Point {
	summary := AggregatedType(dataType)
	var points []Point
	for _, ds := range b.Dataset {
		for _, p := range ds.Point {
			t := p.Type(ds)
			if t != dataType && t != summary {
				continue
			}
			p.DataTypeName = t
			points = append(points, p)
		}
	}
	return points
}

func (b Bucket) validate() error {
	if b.StartTimeMillis <= 0 {
		return fmt.Errorf("%w: bucket without startTimeMillis", ErrMalformedResponse)
	}
	return nil
}

// Dataset holds the points one data source contributed to a bucket
type Dataset struct {
	DataSourceID string  `json:"dataSourceId"`
	Point        []Point `json:"point"`
}

// DataType returns the data type encoded in the source id
// ("derived:<type>:<app>:<stream>"), or "" if it has no such segment.
func (d Dataset) DataType() string {
	parts := strings.Split(d.DataSourceID, ":")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Point is a single data point. Value may be empty.
type Point struct {
	DataTypeName       string  `json:"dataTypeName"`
	StartTimeNanos     Int64   `json:"startTimeNanos"`
	EndTimeNanos       Int64   `json:"endTimeNanos"`
	OriginDataSourceID string  `json:"originDataSourceId,omitempty"`
	Value              []Value `json:"value"`
}

// Type returns the point's data type, falling back to its dataset's
func (p Point) Type(ds Dataset) string {
	if p.DataTypeName != "" {
		return p.DataTypeName
	}
	return ds.DataType()
}

// Summary reads a summary point's [average, maximum, minimum] slots. It
// reports false for raw points and for summaries missing a slot.
func (p Point) Summary() (avg, high, low float64, ok bool) {
	if !IsSummaryType(p.DataTypeName) || len(p.Value) < 3 {
		return 0, 0, 0, false
	}
	for _, v := range p.Value[:3] {
		if v.FpVal == nil {
			return 0, 0, 0, false
		}
	}
	return *p.Value[0].FpVal, *p.Value[1].FpVal, *p.Value[2].FpVal, true
}

// Value holds one field of a point. Exactly one of the fields is set for
// the data types used here.
type Value struct {
	IntVal *int64   `json:"intVal,omitempty"`
	FpVal  *float64 `json:"fpVal,omitempty"`
}

// SessionsResponse is the sessions list response
type SessionsResponse struct {
	Session []Session `json:"session"`
}

// Session is a provider-reported activity interval. Start and end are required.
type Session struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	StartTimeMillis Int64  `json:"startTimeMillis"`
	EndTimeMillis   Int64  `json:"endTimeMillis"`
	ActivityType    int    `json:"activityType"`
}

// Start returns the session start time
func (s Session) Start() time.Time {
	return s.StartTimeMillis.MillisTime()
}

// End returns the session end time
func (s Session) End() time.Time {
	return s.EndTimeMillis.MillisTime()
}

func (s Session) validate() error {
	if s.StartTimeMillis <= 0 || s.EndTimeMillis <= 0 {
		return fmt.Errorf("%w: session %q without start or end time", ErrMalformedResponse, s.ID)
	}
	if s.EndTimeMillis < s.StartTimeMillis {
		return fmt.Errorf("%w: session %q ends before it starts", ErrMalformedResponse, s.ID)
	}
	return nil
}

// decodeJSON strictly decodes a provider payload
func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
