package history_test

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/stockgen-ai/generator/internal/history"
	"github.com/stockgen-ai/generator/internal/shared/models"
)

// alternating builds n transcript entries starting with a user turn.
func alternating(n int, content string) []models.Turn {
	turns := make([]models.Turn, n)
	for i := range turns {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		turns[i] = models.Turn{Role: role, Content: fmt.Sprintf("%s %d", content, i)}
	}
	return turns
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		// 80 chars / 4 = 20 beats ceil(1 word * 1.3) = 2
		{"char heavy", strings.Repeat("abcdefghij", 8), 20},
		// 19 chars / 4 = 4 loses to ceil(10 words * 1.3) = 13
		{"word heavy", "a b c d e f g h i j", 13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := history.EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestTrimDisabledReturnsInput(t *testing.T) {
	transcript := alternating(500, "word")

	got := history.Trim(transcript, "prompt", 10, 10, false)
	if !reflect.DeepEqual(got, transcript) {
		t.Fatal("disabled trimming must return the transcript unchanged")
	}
}

func TestTrimWithinLimitsUnchanged(t *testing.T) {
	transcript := alternating(6, "hi")

	got := history.Trim(transcript, "prompt", 400, 260000, true)
	if !reflect.DeepEqual(got, transcript) {
		t.Fatal("transcript within limits must be unchanged")
	}
}

func TestTrimByMessageCount(t *testing.T) {
	transcript := alternating(500, "word")

	got := history.Trim(transcript, "prompt", 400, 1000000, true)
	if len(got) > 400 {
		t.Fatalf("trimmed length = %d, want <= 400", len(got))
	}
	if got[0].Role != models.RoleUser {
		t.Fatalf("retained window must start on a user turn, got %q", got[0].Role)
	}
	// Newest entries survive.
	if got[len(got)-1] != transcript[len(transcript)-1] {
		t.Fatal("trimming must keep the newest entries")
	}
}

func TestTrimRealignsToUserTurn(t *testing.T) {
	transcript := alternating(500, "word")

	// An odd window lands the first retained entry on an assistant turn,
	// which must then be dropped.
	got := history.Trim(transcript, "prompt", 399, 1000000, true)
	if got[0].Role != models.RoleUser {
		t.Fatalf("retained window must start on a user turn, got %q", got[0].Role)
	}
	if len(got) != 398 {
		t.Fatalf("trimmed length = %d, want 398", len(got))
	}
}

func TestTrimTokenBudgetDropsPairs(t *testing.T) {
	// Every turn estimates to ~250 tokens, so 40 turns blow a 3000-token
	// budget and pairs drop from the front until it fits.
	transcript := alternating(40, strings.Repeat("x", 1000))

	got := history.Trim(transcript, "prompt", 40, 3000, true)
	if len(got) >= 40 {
		t.Fatalf("expected pair drops, still %d turns", len(got))
	}
	if len(got)%2 != 0 {
		t.Fatalf("pairs must be dropped together, got odd length %d", len(got))
	}
	if got[0].Role != models.RoleUser {
		t.Fatalf("retained window must start on a user turn, got %q", got[0].Role)
	}
}

func TestTrimNeverCollapsesBelowFloor(t *testing.T) {
	// Far over budget regardless of how many pairs are dropped.
	transcript := alternating(60, strings.Repeat("y", 4000))

	got := history.Trim(transcript, "prompt", 60, 100, true)
	if len(got) != 10 {
		t.Fatalf("degenerate transcript must stop at the floor, got %d turns", len(got))
	}

	// Shrinking repeatedly makes no further progress.
	again := history.Trim(got, "prompt", 60, 100, true)
	if len(again) < 10 {
		t.Fatalf("re-trimming went below the floor: %d", len(again))
	}
}

func TestTrimDeterministic(t *testing.T) {
	transcript := alternating(123, strings.Repeat("z", 300))

	first := history.Trim(transcript, "prompt", 50, 2000, true)
	second := history.Trim(transcript, "prompt", 50, 2000, true)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("Trim must be deterministic for identical inputs")
	}
}

func TestTrimDoesNotMutateInput(t *testing.T) {
	transcript := alternating(30, strings.Repeat("w", 2000))
	snapshot := append([]models.Turn(nil), transcript...)

	history.Trim(transcript, "prompt", 8, 100, true)
	if !reflect.DeepEqual(transcript, snapshot) {
		t.Fatal("Trim must not mutate its input")
	}
}
