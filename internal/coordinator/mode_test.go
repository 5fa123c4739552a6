package coordinator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rdeforest/ClodWeave/internal/envelope"
)

func TestParseMode(t *testing.T) {
	for _, name := range Modes() {
		k, err := ParseMode(name)
		assert.NoError(t, err)
		assert.Equal(t, ModeKind(name), k)
	}

	_, err := ParseMode("round-robin")
	assert.EqualError(t, err, `unknown coordinator mode "round-robin"`)
}

func TestModeProblems(t *testing.T) {
	m := Mode{Kind: Synthesis, Synthesizer: "judge"}
	assert.Equal(t, []string{"synthesis requires at least one participant besides the synthesizer"}, m.problems([]string{"judge"}))
	assert.Empty(t, m.problems([]string{"a", "judge"}))

	m = Mode{Kind: Handoff}
	assert.Contains(t, m.problems([]string{"a"}), "handoff requires max_hops >= 1")

	assert.Contains(t, Mode{Kind: Parallel}.problems(nil), "at least one participant is required")
}

func TestPredicates(t *testing.T) {
	turn := func(p, reply string) Turn {
		return Turn{Participant: p, Reply: json.RawMessage(reply)}
	}

	agree := []Turn{turn("a", `{"x":1,"y":2}`), turn("b", `{"y":2,"x":1}`)}
	assert.True(t, unanimous(nil, agree))
	assert.False(t, unanimous(nil, []Turn{turn("a", `1`), turn("b", `2`)}))

	failed := turn("b", "")
	failed.Error = &envelope.Error{Code: envelope.CodeTimeout, Message: "late"}
	assert.False(t, unanimous(nil, []Turn{turn("a", `1`), failed}))

	prev := []Turn{turn("a", `1`), turn("b", `2`)}
	assert.True(t, stable(prev, []Turn{turn("a", `1`), turn("b", `2`)}))
	assert.False(t, stable(prev, []Turn{turn("a", `1`), turn("b", `3`)}))
	assert.False(t, stable(nil, prev))
}
