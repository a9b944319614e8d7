package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sharom/phpunit/internal/model"
)

func unit(class, method string, deps ...string) model.TestUnit {
	return model.TestUnit{Class: class, Method: method, Dependencies: deps}
}

func names(tests []model.TestUnit) []string {
	out := make([]string, len(tests))
	for i := range tests {
		out[i] = tests[i].Name()
	}
	return out
}

func TestTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		depends string
		want    string
	}{
		{"testA", "App\\FooTest::testA"},
		{"clone testA", "App\\FooTest::testA"},
		{"shallowClone testA", "App\\FooTest::testA"},
		{"!clone testA", "App\\FooTest::testA"},
		{"App\\BarTest::testB", "App\\BarTest::testB"},
		{"\\App\\BarTest::testB", "App\\BarTest::testB"},
		{"  testC  ", "App\\FooTest::testC"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Target("App\\FooTest", tt.depends), tt.depends)
	}
}

func TestBuildEdges(t *testing.T) {
	t.Parallel()

	tests := []model.TestUnit{
		unit("A", "testOne"),
		unit("A", "testTwo", "testOne", "clone testOne", "testTwo", "testMissing"),
		unit("B", "testThree", "A::testTwo"),
	}
	edges, dangling := BuildEdges(tests)

	assert.Equal(t, []Edge{
		{Test: "A::testTwo", DependsOn: "A::testOne"},
		{Test: "B::testThree", DependsOn: "A::testTwo"},
	}, edges)
	assert.Equal(t, []Edge{{Test: "A::testTwo", DependsOn: "A::testMissing"}}, dangling)
}

func TestBuildEdgesCaseInsensitive(t *testing.T) {
	t.Parallel()

	edges, dangling := BuildEdges([]model.TestUnit{
		unit("App\\A", "testOne"),
		unit("App\\A", "testTwo", "app\\a::TESTONE"),
	})
	assert.Len(t, edges, 1)
	assert.Empty(t, dangling)
}

func TestOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		tests []model.TestUnit
		want  []string
	}{
		{
			"keeps input order",
			[]model.TestUnit{unit("A", "testOne"), unit("A", "testTwo"), unit("A", "testThree")},
			[]string{"A::testOne", "A::testTwo", "A::testThree"},
		},
		{
			"moves dependents",
			[]model.TestUnit{
				unit("A", "testConsumer", "testProducer"),
				unit("A", "testOther"),
				unit("A", "testProducer", "testRoot"),
				unit("A", "testRoot"),
			},
			[]string{"A::testOther", "A::testRoot", "A::testProducer", "A::testConsumer"},
		},
		{
			"cycle",
			[]model.TestUnit{
				unit("A", "testX", "testY"),
				unit("A", "testFree"),
				unit("A", "testY", "testX"),
				unit("A", "testAfterCycle", "testX"),
			},
			[]string{"A::testFree", "A::testX", "A::testY", "A::testAfterCycle"},
		},
		{
			"dangling ignored",
			[]model.TestUnit{unit("A", "testOne", "testGone"), unit("A", "testTwo")},
			[]string{"A::testOne", "A::testTwo"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, names(Order(tt.tests)))
		})
	}
}

func TestOrderEmpty(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Order(nil))
}
