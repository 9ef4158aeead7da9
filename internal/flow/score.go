// Package flow implements scoring and lead temperature classification.
package flow

import "github.com/leadpipe/LeadPipe/internal/models"

// ClampScore clamps a cumulative score to [models.MinScore, models.MaxScore].
func ClampScore(score int) int {
	if score < models.MinScore {
		return models.MinScore
	}
	if score > models.MaxScore {
		return models.MaxScore
	}
	return score
}

// Classify maps a score to a lead temperature for the given thresholds:
// hot when score >= hotThreshold, warm when score >= warmThreshold, cold
// otherwise. For fixed thresholds the mapping is monotonic in the score.
func Classify(score, hotThreshold, warmThreshold int) models.LeadTemperature {
	if score >= hotThreshold {
		return models.TemperatureHot
	}
	if score >= warmThreshold {
		return models.TemperatureWarm
	}
	return models.TemperatureCold
}

// Temperature classifies a session against its flow's thresholds.
func (cf *CompiledFlow) Temperature(s *models.ConversationSession) models.LeadTemperature {
	return Classify(s.AccumulatedScore, cf.def.HotLeadThreshold, cf.def.WarmLeadThreshold)
}
