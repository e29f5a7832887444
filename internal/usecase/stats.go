package usecase

import "LiveTicks/internal/domain/models"

// ComputeStats summarizes series. An empty series yields all zeros.
func ComputeStats(series []models.DataPoint) models.SeriesStats {
	if len(series) == 0 {
		return models.SeriesStats{}
	}
	st := models.SeriesStats{
		Count:  len(series),
		Min:    series[0].Value,
		Max:    series[0].Value,
		Latest: series[len(series)-1].Value,
	}
	var sum float64
	for _, dp := range series {
		st.Min = min(st.Min, dp.Value)
		st.Max = max(st.Max, dp.Value)
		sum += dp.Value
	}
	st.Average = sum / float64(len(series))
	return st
}
