package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		full, first, last string
	}{
		{"JOHN SMITH", "JOHN", "SMITH"},
		{"  JOHN   Q   PUBLIC ", "JOHN", "PUBLIC"},
		{"SMITH, JOHN", "JOHN", "SMITH"},
		{"SMITH, JOHN ALLEN, JR", "JOHN", "SMITH"},
		{"DR. JANE DOE", "JANE", "DOE"},
		{"ROBERT DOWNEY JR.", "ROBERT", "DOWNEY"},
		{"JUAN CARLOS DE LA CRUZ", "JUAN", "DE LA CRUZ"},
		{"MARIA DEL RIO", "MARIA", "DEL RIO"},
		{"LUDWIG VAN BEETHOVEN III", "LUDWIG", "VAN BEETHOVEN"},
		{"CHER", "CHER", ""},
		{"", "", ""},
		{"DE LA GARZA, ANA", "ANA", "DE LA GARZA"},
	}
	for _, tt := range tests {
		t.Run(tt.full, func(t *testing.T) {
			first, last := SplitName(tt.full)
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
		})
	}
}
