package localdemo

// CompletionRatio is done subtasks over all subtasks; 1 when there are none.
func CompletionRatio(c Canvas) float64 {
	var total, done int
	for _, group := range c.TaskGroups {
		for _, sub := range group.Subtasks {
			total++
			if sub.Done {
				done++
			}
		}
	}
	if total == 0 {
		return 1
	}
	return float64(done) / float64(total)
}

// PendingHighRisk counts pending recommendations with high risk.
func PendingHighRisk(c Canvas) int {
	var n int
	for _, rec := range c.Recommendations {
		if rec.State == RecPending && rec.Risk == LevelHigh {
			n++
		}
	}
	return n
}

// DeriveStatus classifies a canvas from its completion ratio and pending
// high-risk recommendations.
func DeriveStatus(c Canvas) string {
	ratio := CompletionRatio(c)
	highRisk := PendingHighRisk(c)
	switch {
	case highRisk >= 2 || ratio < 0.25:
		return StatusBehind
	case highRisk >= 1 || ratio < 0.55:
		return StatusAtRisk
	default:
		return StatusOnTrack
	}
}

func StatusLabel(status string) string {
	switch status {
	case StatusBehind:
		return "Behind"
	case StatusAtRisk:
		return "At Risk"
	default:
		return "On Track"
	}
}

func levelScore(level string) int {
	switch level {
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	default:
		return 1
	}
}

// Score ranks a recommendation by urgency plus risk.
func Score(rec Recommendation) int {
	return levelScore(rec.Urgency) + levelScore(rec.Risk)
}

func refreshStatus(c *Canvas) {
	c.Status = DeriveStatus(*c)
	c.StatusLabel = StatusLabel(c.Status)
}
