package quality

import "github.com/jordanlewiz/atlas-xray/internal/models"

// check is a single required-phrase test within a criterion. If any phrase
// appears in the text the points are awarded; otherwise the missing message
// is reported and the recommendation suggested.
type check struct {
	phrases        []string
	points         int
	met            string
	missing        string
	recommendation string
}

// criterion is the set of checks applied to one update type.
type criterion struct {
	name   string
	checks []check
}

// criteria maps each recognized update type to its checks. When the caller
// supplies neither a type nor a recognizable state, every criterion is
// evaluated.
var criteria = map[models.UpdateType]criterion{
	models.UpdateTypePaused: {
		name: "paused",
		checks: []check{
			{
				phrases:        []string{"why", "reason", "because", "due to"},
				points:         15,
				met:            "Explains why the project was paused.",
				missing:        "Why was this paused?",
				recommendation: "Explain the reason for pausing the project.",
			},
			{
				phrases:        []string{"impact", "affect", "consequence"},
				points:         10,
				met:            "Describes the impact of pausing.",
				missing:        "What is the impact of pausing?",
				recommendation: "Describe what pausing affects (scope, dates, dependents).",
			},
			{
				phrases:        []string{"resume", "restart", "when", "return"},
				points:         15,
				met:            "Says when work will resume.",
				missing:        "When will work resume?",
				recommendation: "Give an expected resume date or condition.",
			},
		},
	},
	models.UpdateTypeOffTrack: {
		name: "off-track",
		checks: []check{
			{
				phrases:        []string{"why", "reason", "because", "due to"},
				points:         15,
				met:            "Explains why the project is off track.",
				missing:        "Why is this off track?",
				recommendation: "Explain the root cause of the slip.",
			},
			{
				phrases:        []string{"impact", "slip", "delay", "affect"},
				points:         10,
				met:            "Quantifies the impact.",
				missing:        "What is the impact on dates or scope?",
				recommendation: "Quantify the delay or scope impact.",
			},
			{
				phrases:        []string{"mitigation", "plan", "action", "recover"},
				points:         15,
				met:            "Includes a plan to get back on track.",
				missing:        "What is the plan to get back on track?",
				recommendation: "Add the mitigation or recovery plan.",
			},
			{
				phrases:        []string{"support", "help", "need"},
				points:         5,
				met:            "Calls out support needed.",
				missing:        "Is any support needed?",
				recommendation: "Say what support would help, if any.",
			},
		},
	},
	models.UpdateTypeAtRisk: {
		name: "at-risk",
		checks: []check{
			{
				phrases:        []string{"risk", "why", "reason", "because"},
				points:         15,
				met:            "Names the risk.",
				missing:        "What is the risk?",
				recommendation: "Name the specific risk.",
			},
			{
				phrases:        []string{"impact", "affect", "slip", "delay"},
				points:         10,
				met:            "Describes the potential impact.",
				missing:        "What happens if the risk materializes?",
				recommendation: "Describe the impact if the risk lands.",
			},
			{
				phrases:        []string{"mitigation", "plan", "action", "monitor"},
				points:         15,
				met:            "Includes a mitigation plan.",
				missing:        "How is the risk being mitigated?",
				recommendation: "Add how the risk is being mitigated or monitored.",
			},
		},
	},
	models.UpdateTypePrioritization: {
		name: "prioritization",
		checks: []check{
			{
				phrases:        []string{"why", "reason", "because", "due to"},
				points:         15,
				met:            "Explains the reprioritization.",
				missing:        "Why was this reprioritized?",
				recommendation: "Explain what drove the priority change.",
			},
			{
				phrases:        []string{"impact", "affect", "trade"},
				points:         10,
				met:            "Covers the trade-offs.",
				missing:        "What are the trade-offs?",
				recommendation: "Describe what is gained and what is deferred.",
			},
			{
				phrases:        []string{"next", "instead", "focus"},
				points:         10,
				met:            "Says what happens next.",
				missing:        "What is the team focusing on instead?",
				recommendation: "Say what the team will focus on now.",
			},
		},
	},
	models.UpdateTypeOnTrack: {
		name: "on-track",
		checks: []check{
			{
				phrases:        []string{"progress", "completed", "done", "shipped", "finished"},
				points:         15,
				met:            "Reports concrete progress.",
				missing:        "What progress was made?",
				recommendation: "List what was actually completed.",
			},
			{
				phrases:        []string{"next", "upcoming", "following", "plan"},
				points:         10,
				met:            "Previews what comes next.",
				missing:        "What is coming next?",
				recommendation: "Preview the next milestone.",
			},
		},
	},
	models.UpdateTypePending: {
		name: "pending",
		checks: []check{
			{
				phrases:        []string{"start", "kick", "begin", "when"},
				points:         15,
				met:            "Says when work starts.",
				missing:        "When does work start?",
				recommendation: "Give the expected start date.",
			},
			{
				phrases:        []string{"waiting", "blocked", "depends", "prerequisite"},
				points:         10,
				met:            "Explains what the start depends on.",
				missing:        "What is the start waiting on?",
				recommendation: "Say what the start is waiting on.",
			},
		},
	},
	models.UpdateTypeDone: {
		name: "done",
		checks: []check{
			{
				phrases:        []string{"outcome", "result", "delivered", "shipped"},
				points:         15,
				met:            "States the outcome.",
				missing:        "What was delivered?",
				recommendation: "State what was delivered.",
			},
			{
				phrases:        []string{"learn", "retro", "follow-up", "next"},
				points:         10,
				met:            "Captures learnings or follow-ups.",
				missing:        "Any learnings or follow-ups?",
				recommendation: "Capture learnings or follow-up work.",
			},
		},
	},
}
