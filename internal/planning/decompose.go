package planning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/loomworks/loom/pkg/models"
)

const (
	minGoals = 3
	maxGoals = 7

	minTasksPerGoal = 2
	maxTasksPerGoal = 5
)

// analysisPrompt asks the backend to scope the request before goal
// derivation.
func analysisPrompt(request, planningContext string) string {
	var b strings.Builder
	b.WriteString("Analyze the scope and constraints of this development request. Be concise.\n\n")
	fmt.Fprintf(&b, "Request: %s\n", request)
	if planningContext != "" {
		fmt.Fprintf(&b, "Context: %s\n", planningContext)
	}
	return b.String()
}

func goalsPrompt(request, analysis string) string {
	return fmt.Sprintf(`Decompose this development request into %d-%d goals.

Request: %s

Analysis:
%s

Respond with JSON only, an array in this exact shape:
[{"title": "", "description": "", "priority": "low|medium|high|critical", "type": "primary|secondary|milestone|constraint", "complexity": "simple|moderate|complex|advanced", "estimated_hours": 0, "depends_on": ["<title of another goal>"], "success_criteria": [], "risk_factors": []}]`,
		minGoals, maxGoals, request, analysis)
}

// rawGoal is the backend's goal shape before id assignment and
// dependency resolution.
type rawGoal struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Priority        string   `json:"priority"`
	Type            string   `json:"type"`
	Complexity      string   `json:"complexity"`
	EstimatedHours  float64  `json:"estimated_hours"`
	DependsOn       []string `json:"depends_on"`
	SuccessCriteria []string `json:"success_criteria"`
	RiskFactors     []string `json:"risk_factors"`
}

// parseGoals decodes the backend's goal list, falling back to a stock
// lifecycle decomposition when the response is unusable.
func parseGoals(raw, request string) []models.Goal {
	text := raw
	if start := strings.Index(text, "["); start >= 0 {
		if end := strings.LastIndex(text, "]"); end > start {
			text = text[start : end+1]
		}
	}

	var parsed []rawGoal
	if err := json.Unmarshal([]byte(text), &parsed); err != nil || len(parsed) == 0 {
		return fallbackGoals(request)
	}
	if len(parsed) > maxGoals {
		parsed = parsed[:maxGoals]
	}

	goals := make([]models.Goal, len(parsed))
	titleToID := make(map[string]string, len(parsed))
	for i, rg := range parsed {
		goals[i] = models.Goal{
			ID:              uuid.New().String(),
			Title:           rg.Title,
			Description:     rg.Description,
			Priority:        goalPriority(rg.Priority),
			Type:            goalType(rg.Type),
			Complexity:      goalComplexity(rg.Complexity),
			EstimatedHours:  rg.EstimatedHours,
			SuccessCriteria: rg.SuccessCriteria,
			RiskFactors:     rg.RiskFactors,
		}
		titleToID[strings.ToLower(rg.Title)] = goals[i].ID
	}

	// Textual dependencies resolve to goal ids by best-effort title
	// matching; unresolvable references are dropped.
	for i, rg := range parsed {
		for _, depTitle := range rg.DependsOn {
			if id := matchTitle(titleToID, depTitle); id != "" && id != goals[i].ID {
				goals[i].DependsOn = append(goals[i].DependsOn, id)
			}
		}
	}
	return goals
}

func matchTitle(titleToID map[string]string, title string) string {
	needle := strings.ToLower(strings.TrimSpace(title))
	if id, ok := titleToID[needle]; ok {
		return id
	}
	for t, id := range titleToID {
		if strings.Contains(t, needle) || strings.Contains(needle, t) {
			return id
		}
	}
	return ""
}

// fallbackGoals is the deterministic decomposition used when the backend
// response cannot be parsed.
func fallbackGoals(request string) []models.Goal {
	understand := models.Goal{
		ID:          uuid.New().String(),
		Title:       "Understand requirements",
		Description: "Clarify scope and constraints of: " + request,
		Priority:    models.PriorityHigh,
		Type:        models.GoalPrimary,
		Complexity:  models.ComplexityModerate,
	}
	build := models.Goal{
		ID:          uuid.New().String(),
		Title:       "Implement solution",
		Description: "Build the requested change",
		Priority:    models.PriorityCritical,
		Type:        models.GoalPrimary,
		Complexity:  models.ComplexityComplex,
		DependsOn:   []string{understand.ID},
	}
	validate := models.Goal{
		ID:          uuid.New().String(),
		Title:       "Validate and test",
		Description: "Verify the solution against the requirements",
		Priority:    models.PriorityHigh,
		Type:        models.GoalMilestone,
		Complexity:  models.ComplexityModerate,
		DependsOn:   []string{build.ID},
	}
	return []models.Goal{understand, build, validate}
}

func goalPriority(s string) models.GoalPriority {
	switch models.GoalPriority(strings.ToLower(s)) {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityCritical:
		return models.GoalPriority(strings.ToLower(s))
	default:
		return models.PriorityMedium
	}
}

func goalType(s string) models.GoalType {
	switch models.GoalType(strings.ToLower(s)) {
	case models.GoalPrimary, models.GoalSecondary, models.GoalMilestone, models.GoalConstraint:
		return models.GoalType(strings.ToLower(s))
	default:
		return models.GoalPrimary
	}
}

func goalComplexity(s string) models.TaskComplexity {
	switch models.TaskComplexity(strings.ToLower(s)) {
	case models.ComplexitySimple, models.ComplexityModerate, models.ComplexityComplex,
		models.ComplexityAdvanced, models.ComplexityExtreme:
		return models.TaskComplexity(strings.ToLower(s))
	default:
		return models.ComplexityModerate
	}
}

// taskPlanForComplexity picks which task types a goal expands to.
// Every goal yields between 2 and 5 tasks.
func taskPlanForComplexity(c models.TaskComplexity) []models.TaskType {
	switch c {
	case models.ComplexitySimple:
		return []models.TaskType{models.TaskImplementation, models.TaskReview}
	case models.ComplexityModerate:
		return []models.TaskType{models.TaskAnalysis, models.TaskImplementation, models.TaskTesting}
	case models.ComplexityComplex:
		return []models.TaskType{models.TaskAnalysis, models.TaskDesign, models.TaskImplementation, models.TaskTesting}
	default: // advanced, extreme
		return []models.TaskType{models.TaskResearch, models.TaskDesign, models.TaskImplementation, models.TaskTesting, models.TaskReview}
	}
}

// providerForTaskType is the fixed type-to-backend heuristic:
// analysis/research go to a general-purpose reasoning backend, design to
// an architecture-oriented one, implementation to a code-oriented one,
// testing/review to a fast adaptive one.
func providerForTaskType(t models.TaskType) string {
	switch t {
	case models.TaskAnalysis, models.TaskResearch:
		return "gpt-4o"
	case models.TaskDesign:
		return "claude-opus-4-20250514"
	case models.TaskImplementation:
		return "claude-sonnet-4-20250514"
	default: // testing, review
		return "gpt-4o-mini"
	}
}

func basePriority(p models.GoalPriority) int {
	switch p {
	case models.PriorityCritical:
		return 4
	case models.PriorityHigh:
		return 3
	case models.PriorityMedium:
		return 2
	default:
		return 1
	}
}

func estimatedTokensFor(c models.TaskComplexity) int64 {
	return int64(c.DemandLevel()) * 500
}

// expandGoals derives each goal's tasks with sequential intra-goal
// dependencies; a goal's first task additionally depends on the final
// task of every goal it depends on.
func expandGoals(goals []models.Goal) []models.Task {
	lastTaskOfGoal := make(map[string]string, len(goals))
	firstTaskOfGoal := make(map[string]string, len(goals))
	var tasks []models.Task

	for _, goal := range goals {
		types := taskPlanForComplexity(goal.Complexity)
		var prev string
		for i, tt := range types {
			task := models.Task{
				ID:              uuid.New().String(),
				GoalID:          goal.ID,
				Title:           fmt.Sprintf("%s: %s", tt, goal.Title),
				Type:            tt,
				Status:          models.TaskPending,
				Priority:        basePriority(goal.Priority),
				EstimatedTokens: estimatedTokensFor(goal.Complexity),
				Provider:        providerForTaskType(tt),
			}
			if prev != "" {
				task.DependsOn = []string{prev}
			}
			if i == 0 {
				firstTaskOfGoal[goal.ID] = task.ID
			}
			if i == len(types)-1 {
				lastTaskOfGoal[goal.ID] = task.ID
			}
			prev = task.ID
			tasks = append(tasks, task)
		}
	}

	// Goal-level dependencies wire in a second pass so that forward
	// references between goals still resolve.
	taskIndex := make(map[string]int, len(tasks))
	for i := range tasks {
		taskIndex[tasks[i].ID] = i
	}
	for _, goal := range goals {
		first, ok := firstTaskOfGoal[goal.ID]
		if !ok {
			continue
		}
		for _, depGoal := range goal.DependsOn {
			if last, ok := lastTaskOfGoal[depGoal]; ok {
				i := taskIndex[first]
				tasks[i].DependsOn = append(tasks[i].DependsOn, last)
			}
		}
	}
	return tasks
}
