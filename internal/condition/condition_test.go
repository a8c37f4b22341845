package condition

import (
	"testing"

	"github.com/AgentsPilot/neuronforge-sub010/internal/variable"
)

type fakeSource struct {
	steps map[string]map[string]interface{}
	vars  map[string]interface{}
}

func (f *fakeSource) StepOutput(id string) (map[string]interface{}, bool) {
	v, ok := f.steps[id]
	return v, ok
}
func (f *fakeSource) Input(key string) (interface{}, bool)       { return nil, false }
func (f *fakeSource) Variable(name string) (interface{}, bool)   { v, ok := f.vars[name]; return v, ok }
func (f *fakeSource) CurrentItem() (interface{}, bool)           { return nil, false }
func (f *fakeSource) LoopVariable(name string) (interface{}, bool) { return nil, false }

func newEval() *Evaluator {
	src := &fakeSource{
		steps: map[string]map[string]interface{}{
			"step1": {"data": map[string]interface{}{"status": "active", "count": 5.0}},
		},
		vars: map[string]interface{}{"threshold": 3.0},
	}
	return NewEvaluator(variable.NewResolver(src, ""))
}

func TestSimpleEquals(t *testing.T) {
	e := newEval()
	c := Condition{Kind: KindSimple, Field: "{{step1.status}}", Operator: "equals", Value: "active"}
	ok, err := e.Evaluate(c)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestSimpleGreaterThan(t *testing.T) {
	e := newEval()
	c := Condition{Kind: KindSimple, Field: "{{step1.count}}", Operator: "greater_than", Value: 3.0}
	ok, err := e.Evaluate(c)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestComplexAndOrNot(t *testing.T) {
	e := newEval()
	leaf := Condition{Kind: KindSimple, Field: "{{step1.status}}", Operator: "equals", Value: "active"}
	other := Condition{Kind: KindSimple, Field: "{{step1.count}}", Operator: "less_than", Value: 1.0}

	and := Condition{Kind: KindComplexAnd, Conditions: []Condition{leaf, other}}
	if ok, _ := e.Evaluate(and); ok {
		t.Fatal("expected AND to be false")
	}

	or := Condition{Kind: KindComplexOr, Conditions: []Condition{leaf, other}}
	if ok, err := e.Evaluate(or); err != nil || !ok {
		t.Fatalf("expected OR to be true, got %v err=%v", ok, err)
	}

	not := Condition{Kind: KindComplexNot, Condition: &other}
	if ok, err := e.Evaluate(not); err != nil || !ok {
		t.Fatalf("expected NOT to be true, got %v err=%v", ok, err)
	}
}

func TestExistenceOperators(t *testing.T) {
	e := newEval()
	missing := Condition{Kind: KindSimple, Field: "{{step1.nonexistent}}", Operator: "not_exists"}
	ok, err := e.Evaluate(missing)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestContainsAndIn(t *testing.T) {
	e := newEval()
	c := Condition{Kind: KindSimple, Field: "{{step1.status}}", Operator: "contains", Value: "activ"}
	if ok, err := e.Evaluate(c); err != nil || !ok {
		t.Fatalf("contains failed: ok=%v err=%v", ok, err)
	}

	in := Condition{Kind: KindSimple, Field: "{{step1.status}}", Operator: "in", Value: []interface{}{"inactive", "active"}}
	if ok, err := e.Evaluate(in); err != nil || !ok {
		t.Fatalf("in failed: ok=%v err=%v", ok, err)
	}
}

func TestExpressionKind(t *testing.T) {
	e := newEval()
	c := Condition{Kind: KindExpression, Expression: "2 + 2 == 4"}
	ok, err := e.Evaluate(c)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}
