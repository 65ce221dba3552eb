package question

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_WordOrderAndPunctuation(t *testing.T) {
	want := Normalize("Tell me about YOURSELF!")

	assert.Equal(t, want, Normalize("yourself about tell me"))
	assert.Equal(t, want, Normalize("tell, me about yourself"))
	assert.Equal(t, want, Normalize("  tell   me\tabout yourself?? "))
	assert.NotEqual(t, want, Normalize("tell me about your team"))
}

func TestNormalize_Stable(t *testing.T) {
	assert.Equal(t, Normalize("why should we hire you"), Normalize("why should we hire you"))
	assert.NotEmpty(t, Normalize(""))
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Tell me about YOURSELF!", "about me tell yourself"},
		{"What's your 5-year plan?", "5year plan whats your"},
		{"", ""},
		{"!!!", ""},
		{"Ça va?", "va ça"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonical(tt.in))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"Tell me about a time you handled conflict", CategoryBehavioral},
		{"How would you design a URL shortener?", CategoryTechnical},
		{"Describe a team database migration", CategoryBehavioral},
		{"Where do you see yourself in five years?", CategoryGeneral},
		{"What is the time COMPLEXITY of quicksort?", CategoryTechnical},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}
