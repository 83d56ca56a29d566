package relay

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

var (
	adjectives = []string{
		"Calm", "Gentle", "Quiet", "Brave", "Kind", "Bright", "Steady", "Warm",
		"Patient", "Hopeful", "Curious", "Serene", "Mellow", "Sunny", "Tender", "Wise",
	}
	nouns = []string{
		"Otter", "Heron", "Maple", "River", "Willow", "Finch", "Fern", "Harbor",
		"Meadow", "Lark", "Cedar", "Panda", "Koala", "Robin", "Brook", "Sparrow",
	}
)

// newID returns a random UUIDv4; collisions are checked by the Registry anyway.
func newID() string { return uuid.NewString() }

// newPseudonym returns a display handle such as "QuietHeron42".
// Handles are cosmetic and may repeat; identity is the member id.
func newPseudonym() string {
	return fmt.Sprintf("%s%s%02d",
		adjectives[rand.Intn(len(adjectives))],
		nouns[rand.Intn(len(nouns))],
		rand.Intn(100),
	)
}
