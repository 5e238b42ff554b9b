package findings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyType(t *testing.T) {
	tests := []struct {
		title string
		check string
		want  string
	}{
		{"Reentrancy in Vault.withdraw", "reentrancy-eth", TypeReentrancy},
		{"Integer Arithmetic Bugs", "SWC-101", TypeArithmeticOverflow},
		{"Unchecked return value from external call.", "SWC-104", TypeUncheckedCall},
		{"Dependence on tx.origin", "", TypeTxOrigin},
		{"", "tx-origin", TypeTxOrigin},
		{"Delegatecall to user-supplied address", "", TypeDelegatecall},
		{"Contract can be destroyed", "suicidal", TypeSelfdestruct},
		{"State access after external call", "SWC-107", TypeReentrancy},
		{"Pragma version too old", "solc-version", TypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.title+"/"+tt.check, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyType(NormalizedIssue{Title: tt.title, Check: tt.check}))
		})
	}
}

func TestClassifyTypeOrderIsPreserved(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"reentrancy that also causes an overflow", TypeReentrancy},
		{"overflow reachable through reentrancy", TypeReentrancy},
		{"unchecked overflow in loop", TypeArithmeticOverflow},
		{"unchecked delegatecall result", TypeUncheckedCall},
		{"tx.origin gated selfdestruct", TypeTxOrigin},
		{"delegatecall into selfdestruct", TypeDelegatecall},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyType(NormalizedIssue{Title: tt.text}))
		})
	}
}

func TestDefaultRemediation(t *testing.T) {
	assert.Equal(t, "tool says so", DefaultRemediation(TypeReentrancy, "  tool says so "))
	assert.Equal(t, remediations[TypeReentrancy], DefaultRemediation(TypeReentrancy, ""))
	assert.Equal(t, GenericRemediation, DefaultRemediation(TypeOther, ""))
	assert.Equal(t, GenericRemediation, DefaultRemediation("made-up", "   "))
}

func TestStandardRecommendations(t *testing.T) {
	list := []Finding{{Type: TypeSelfdestruct}, {Type: TypeReentrancy}, {Type: TypeReentrancy}}
	assert.Equal(t, []string{remediations[TypeReentrancy], remediations[TypeSelfdestruct]}, StandardRecommendations(list))
	assert.Equal(t, []string{GenericRemediation}, StandardRecommendations([]Finding{{Type: TypeOther}}))
	assert.Empty(t, StandardRecommendations(nil))
}
