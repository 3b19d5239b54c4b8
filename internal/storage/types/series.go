package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AggregationMethod selects how a day of samples collapses into one archive value.
type AggregationMethod int

const (
	// MethodUndefined is the zero value. A table entry carrying it is a bug
	// and fails ValidateSeriesTable.
	MethodUndefined AggregationMethod = iota

	// MethodSum is used for cumulative counters (steps, energy, distance).
	MethodSum

	// MethodAvg is used for point-in-time measurements (heart rate, temperature).
	MethodAvg

	// MethodMax is used for running or peak metrics (VO2 max).
	MethodMax

	// MethodUnsupported marks series that cannot be summarized. The archival
	// aggregator skips them and leaves their live rows untouched.
	MethodUnsupported
)

// String returns the string representation of the method.
func (m AggregationMethod) String() string {
	switch m {
	case MethodSum:
		return "sum"
	case MethodAvg:
		return "avg"
	case MethodMax:
		return "max"
	case MethodUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("undefined(%d)", int(m))
	}
}

// Archivable reports whether groups of this method can be summarized.
func (m AggregationMethod) Archivable() bool {
	return m == MethodSum || m == MethodAvg || m == MethodMax
}

// Select picks the archive value for one group from its statistics.
func (m AggregationMethod) Select(avg, min, max, sum decimal.Decimal) (decimal.Decimal, error) {
	switch m {
	case MethodSum:
		return sum, nil
	case MethodAvg:
		return avg, nil
	case MethodMax:
		return max, nil
	default:
		return decimal.Zero, fmt.Errorf("aggregation method %s cannot select a value", m)
	}
}

// Merge combines an existing archive value with a freshly computed one for
// the same natural key. AVG is weighted by sample count.
func (m AggregationMethod) Merge(oldValue decimal.Decimal, oldCount int64, newValue decimal.Decimal, newCount int64) (decimal.Decimal, int64, error) {
	total := oldCount + newCount
	switch m {
	case MethodSum:
		return oldValue.Add(newValue), total, nil
	case MethodMax:
		return decimal.Max(oldValue, newValue), total, nil
	case MethodAvg:
		if total == 0 {
			return decimal.Zero, 0, nil
		}
		weighted := oldValue.Mul(decimal.NewFromInt(oldCount)).
			Add(newValue.Mul(decimal.NewFromInt(newCount)))
		return weighted.DivRound(decimal.NewFromInt(total), ValueScale), total, nil
	default:
		return decimal.Zero, 0, fmt.Errorf("aggregation method %s cannot merge", m)
	}
}

// ValueScale is the number of fractional digits stored for sample and archive values.
const ValueScale = 6

// SeriesType identifies a metric. Ids are persisted and must never be reused.
type SeriesType int16

const (
	SeriesHeartRate              SeriesType = 1
	SeriesRestingHeartRate       SeriesType = 2
	SeriesHeartRateVariability   SeriesType = 3
	SeriesWalkingHeartRateAvg    SeriesType = 4
	SeriesSteps                  SeriesType = 10
	SeriesActiveEnergy           SeriesType = 11
	SeriesBasalEnergy            SeriesType = 12
	SeriesDistanceWalkingRunning SeriesType = 13
	SeriesDistanceCycling        SeriesType = 14
	SeriesFlightsClimbed         SeriesType = 15
	SeriesExerciseTime           SeriesType = 16
	SeriesStandTime              SeriesType = 17
	SeriesVO2Max                 SeriesType = 20
	SeriesBodyTemperature        SeriesType = 30
	SeriesSkinTemperature        SeriesType = 31
	SeriesOxygenSaturation       SeriesType = 32
	SeriesRespiratoryRate        SeriesType = 33
	SeriesBloodGlucose           SeriesType = 34
	SeriesWeight                 SeriesType = 40
	SeriesBodyFatPercentage      SeriesType = 41
	SeriesSleepStage             SeriesType = 50
)

// SeriesTypeDefinition maps a series type to its name, unit and method.
type SeriesTypeDefinition struct {
	ID     SeriesType
	Name   string
	Unit   string
	Method AggregationMethod
}

var seriesTable = []SeriesTypeDefinition{
	{SeriesHeartRate, "heart_rate", "bpm", MethodAvg},
	{SeriesRestingHeartRate, "resting_heart_rate", "bpm", MethodAvg},
	{SeriesHeartRateVariability, "heart_rate_variability_sdnn", "ms", MethodAvg},
	{SeriesWalkingHeartRateAvg, "walking_heart_rate_average", "bpm", MethodAvg},
	{SeriesSteps, "steps", "count", MethodSum},
	{SeriesActiveEnergy, "energy", "kcal", MethodSum},
	{SeriesBasalEnergy, "basal_energy", "kcal", MethodSum},
	{SeriesDistanceWalkingRunning, "distance_walking_running", "m", MethodSum},
	{SeriesDistanceCycling, "distance_cycling", "m", MethodSum},
	{SeriesFlightsClimbed, "flights_climbed", "count", MethodSum},
	{SeriesExerciseTime, "exercise_time", "min", MethodSum},
	{SeriesStandTime, "stand_time", "min", MethodSum},
	{SeriesVO2Max, "vo2_max", "ml/kg/min", MethodMax},
	{SeriesBodyTemperature, "body_temperature", "degC", MethodAvg},
	{SeriesSkinTemperature, "skin_temperature", "degC", MethodAvg},
	{SeriesOxygenSaturation, "oxygen_saturation", "percent", MethodAvg},
	{SeriesRespiratoryRate, "respiratory_rate", "brpm", MethodAvg},
	{SeriesBloodGlucose, "blood_glucose", "mg/dL", MethodAvg},
	{SeriesWeight, "weight", "kg", MethodAvg},
	{SeriesBodyFatPercentage, "body_fat_percentage", "percent", MethodAvg},
	{SeriesSleepStage, "sleep_stage", "stage", MethodUnsupported},
}

var (
	seriesByID   = make(map[SeriesType]SeriesTypeDefinition, len(seriesTable))
	seriesByName = make(map[string]SeriesTypeDefinition, len(seriesTable))
)

func init() {
	for _, def := range seriesTable {
		seriesByID[def.ID] = def
		seriesByName[def.Name] = def
	}
}

// ValidateSeriesTable checks that every series type has a unique id, a
// unique name and a defined aggregation method. Services call it at startup.
func ValidateSeriesTable() error {
	return validateSeriesDefinitions(seriesTable)
}

func validateSeriesDefinitions(defs []SeriesTypeDefinition) error {
	ids := make(map[SeriesType]string, len(defs))
	names := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.ID <= 0 {
			return fmt.Errorf("series type %q: id must be positive", def.Name)
		}
		if other, ok := ids[def.ID]; ok {
			return fmt.Errorf("series type id %d used by %q and %q", def.ID, other, def.Name)
		}
		if def.Name == "" {
			return fmt.Errorf("series type %d: empty name", def.ID)
		}
		if names[def.Name] {
			return fmt.Errorf("series type name %q is duplicated", def.Name)
		}
		if def.Method == MethodUndefined || def.Method > MethodUnsupported {
			return fmt.Errorf("series type %q: aggregation method is undefined", def.Name)
		}
		ids[def.ID] = def.Name
		names[def.Name] = true
	}
	return nil
}

// Lookup returns the definition of a series type.
func Lookup(id SeriesType) (SeriesTypeDefinition, bool) {
	def, ok := seriesByID[id]
	return def, ok
}

// Method returns the aggregation method of a series type. Unknown ids
// report MethodUnsupported.
func (s SeriesType) Method() AggregationMethod {
	if def, ok := seriesByID[s]; ok {
		return def.Method
	}
	return MethodUnsupported
}

// Known reports whether the id is in the series table.
func (s SeriesType) Known() bool {
	_, ok := seriesByID[s]
	return ok
}

// String returns the series name, or the numeric id for unknown types.
func (s SeriesType) String() string {
	if def, ok := seriesByID[s]; ok {
		return def.Name
	}
	return fmt.Sprintf("series(%d)", int16(s))
}

// ParseSeriesType resolves a series name (case-insensitive).
func ParseSeriesType(name string) (SeriesType, error) {
	def, ok := seriesByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown series type %q", name)
	}
	return def.ID, nil
}

// AllSeriesTypes returns every known series type in table order.
func AllSeriesTypes() []SeriesType {
	out := make([]SeriesType, len(seriesTable))
	for i, def := range seriesTable {
		out[i] = def.ID
	}
	return out
}

// ArchivableSeriesTypes returns the series types the archival aggregator summarizes.
func ArchivableSeriesTypes() []SeriesType {
	out := make([]SeriesType, 0, len(seriesTable))
	for _, def := range seriesTable {
		if def.Method.Archivable() {
			out = append(out, def.ID)
		}
	}
	return out
}
