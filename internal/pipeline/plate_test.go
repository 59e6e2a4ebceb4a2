package pipeline_test

import (
	"testing"

	"github.com/odsyjr2/detection-supervisor/internal/pipeline"
	"github.com/stretchr/testify/assert"
)

func TestValidPlateFormat(t *testing.T) {
	cases := []struct {
		text  string
		valid bool
	}{
		{"12가3456", true},
		{"123가4567", true},
		{"서울12가3456", true}, // region prefix
		{"1가3456", false},   // too few leading digits
		{"12가345", false},   // too few trailing digits
		{"12AB3456", false},
		{"ABC1234", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.valid, pipeline.ValidPlateFormat(tc.text), "plate %q", tc.text)
	}
}
