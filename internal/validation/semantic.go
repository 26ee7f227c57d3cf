package validation

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a standard 5-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// CheckSteps runs the load-time checks JSON Schema cannot express: step ids
// resolve against lookup, loops have a valid body, and every binding parses.
// lookup may be nil to skip registry checks.
func CheckSteps(def *schema.AutomationDefinition, lookup StepLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("/", schema.ErrCodeValidation, "automation definition is nil")
		return result
	}

	checkTrigger(&def.Trigger, result)

	for i := range def.Steps {
		step := &def.Steps[i]

		switch step.StepID {
		case schema.TriggerCron:
			result.AddStepError(i, step, "stepId", schema.ErrCodeValidation,
				"CRON can only be used as a trigger")
		case schema.StepLoop:
			checkLoop(def.Steps, i, result)
		case schema.StepFilter:
			checkFilter(i, step, result)
		default:
			if lookup != nil && !lookup.Has(step.StepID) {
				result.AddStepError(i, step, "stepId", schema.ErrCodeStepNotFound,
					fmt.Sprintf("step %q is not registered", step.StepID))
				break
			}
			rules, _ := lookup.(StepRules)
			for _, key := range MissingRequired(step.Inputs, RulesFor(*step, rules)) {
				result.AddStepWarning(i, step, "inputs."+key, schema.ErrCodeValidation,
					fmt.Sprintf("step %q is missing required input %q", step.ID, key))
			}
		}

		b := bindingCheck{index: i, step: step, loopBody: isLoopBody(def.Steps, i), result: result}
		b.check(step.Inputs, "inputs")
	}

	return result
}

func checkTrigger(trigger *schema.TriggerDefinition, result *schema.ValidationResult) {
	switch trigger.StepID {
	case schema.StepLoop, schema.StepFilter:
		result.AddError("trigger.stepId", schema.ErrCodeValidation,
			fmt.Sprintf("%s cannot be used as a trigger", trigger.StepID))
	case schema.TriggerCron:
		expr, _ := trigger.Inputs["cron"].(string)
		if strings.TrimSpace(expr) == "" {
			result.AddError("trigger.inputs.cron", schema.ErrCodeValidation,
				"CRON trigger requires a cron expression")
			return
		}
		if _, err := ParseCron(expr); err != nil {
			result.AddError("trigger.inputs.cron", schema.ErrCodeValidation,
				fmt.Sprintf("invalid cron expression %q: %s", expr, err.Error()))
		}
	}
}

func checkLoop(steps []schema.Step, i int, result *schema.ValidationResult) {
	loop := &steps[i]
	if i == len(steps)-1 {
		result.AddStepError(i, loop, "", schema.ErrCodeValidation, "LOOP must be followed by a body step")
	} else if body := &steps[i+1]; body.IsLoop() {
		result.AddStepError(i+1, body, "stepId", schema.ErrCodeValidation,
			"a loop body cannot be another LOOP")
	}

	switch opt := loop.Inputs["option"].(type) {
	case nil:
	case string:
		if !strings.Contains(opt, "{{") && opt != schema.LoopOptionArray && opt != schema.LoopOptionString {
			result.AddStepError(i, loop, "inputs.option", schema.ErrCodeValidation,
				fmt.Sprintf("loop option must be %q or %q, got %q", schema.LoopOptionArray, schema.LoopOptionString, opt))
		}
	default:
		result.AddStepError(i, loop, "inputs.option", schema.ErrCodeValidation, "loop option must be a string")
	}

	if _, ok := loop.Inputs["binding"]; !ok {
		result.AddStepWarning(i, loop, "inputs.binding", schema.ErrCodeValidation,
			"LOOP has no binding and will end with INCORRECT_TYPE")
	}
}

func checkFilter(i int, step *schema.Step, result *schema.ValidationResult) {
	if _, ok := step.Inputs["expression"]; ok {
		return
	}
	cond, ok := step.Inputs["condition"].(string)
	if !ok {
		result.AddStepError(i, step, "inputs.condition", schema.ErrCodeValidation,
			"FILTER requires a condition or an expression")
		return
	}
	if !strings.Contains(cond, "{{") && !slices.Contains(schema.FilterConditions, cond) {
		result.AddStepError(i, step, "inputs.condition", schema.ErrCodeValidation,
			fmt.Sprintf("unknown filter condition %q", cond))
	}
}

func isLoopBody(steps []schema.Step, i int) bool {
	return i > 0 && steps[i-1].IsLoop()
}

// bindingCheck walks the inputs of the step at index, verifying that every
// string leaf parses and warning about references to steps that have not
// run yet or to loop outside a body.
type bindingCheck struct {
	index    int
	step     *schema.Step
	loopBody bool
	result   *schema.ValidationResult
}

func (b bindingCheck) check(v any, field string) {
	switch val := v.(type) {
	case string:
		if !strings.Contains(val, "{{") {
			return
		}
		tmpl, err := expressions.ParseTemplate(val)
		if err != nil {
			b.result.AddStepError(b.index, b.step, field, schema.ErrCodeTemplate, err.Error())
			return
		}
		// Step outputs are 1-based: the step at index is steps.(index+1).
		position := b.index + 1
		for _, seg := range tmpl.Segments {
			if seg.Binding == nil {
				continue
			}
			if p, ok := expressions.ParsePath(seg.Binding.Expr); ok && p[0] == "loop" && !b.loopBody {
				b.result.AddStepWarning(b.index, b.step, field, schema.ErrCodeValidation,
					fmt.Sprintf("binding %q uses loop outside a loop body", seg.Binding.Expr))
				continue
			}
			if n, ok := stepReference(seg.Binding.Expr); ok && n >= position {
				b.result.AddStepWarning(b.index, b.step, field, schema.ErrCodeValidation,
					fmt.Sprintf("binding %q references step %d, which runs at or after this step", seg.Binding.Expr, n))
			}
		}
	case map[string]any:
		for k, item := range val {
			b.check(item, field+"."+k)
		}
	case []any:
		for j, item := range val {
			b.check(item, fmt.Sprintf("%s[%d]", field, j))
		}
	}
}

func stepReference(expr string) (int, bool) {
	p, ok := expressions.ParsePath(expr)
	if !ok || len(p) < 2 || p[0] != "steps" {
		return 0, false
	}
	n, err := strconv.Atoi(p[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
