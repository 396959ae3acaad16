package chatgpt

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"time"

	"golang.org/x/crypto/sha3"
)

const (
	// DefaultMaxIterations bounds a proof-of-work search.
	DefaultMaxIterations = 100_000

	proofPrefix    = "gAAAAAB"
	fallbackPrefix = "gAAAAABwQ8Lk5FbGpA2NcR9dShT6gYjU7VxZ4D"
	parseTimeFmt   = "Mon Jan 02 2006 15:04:05"
	parseTimeZone  = " GMT-0800 (Pacific Time)"
	hardwareConst  = 4294705152

	// cancelCheckEvery is how many trials run between context checks.
	cancelCheckEvery = 1024
)

var (
	cores   = []int{1, 2, 4, 8, 12, 16, 24}
	screens = []int{3000, 4000, 6000}
)

// ClientMetadata is the browser fingerprint folded into each trial.
type ClientMetadata struct {
	Cores     int
	Screen    int
	ParseTime string
	UserAgent string
}

// NewClientMetadata picks a plausible core count and screen size and stamps
// the current time the way a US-west browser would print it.
func NewClientMetadata(userAgent string, now time.Time) ClientMetadata {
	return ClientMetadata{
		Cores:     cores[rand.IntN(len(cores))],
		Screen:    screens[rand.IntN(len(screens))],
		ParseTime: parseTime(now),
		UserAgent: userAgent,
	}
}

func parseTime(now time.Time) string {
	return now.UTC().Add(-8*time.Hour).Format(parseTimeFmt) + parseTimeZone
}

// FallbackToken is the token sent when no trial satisfied the difficulty.
func FallbackToken(seed string) string {
	return fallbackPrefix + base64.StdEncoding.EncodeToString([]byte(`"`+seed+`"`))
}

// solve searches at most maxIterations trial counters for a tuple whose
// SHA3-512(seed + base64(json(tuple))) hex prefix is <= the difficulty. It
// reports whether the search succeeded; on failure the token is the
// fallback form embedding only the seed.
func solve(ctx context.Context, ch Challenge, meta ClientMetadata, maxIterations int) (string, bool, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	diffLen := len(ch.Difficulty) / 2
	if diffLen == 0 {
		diffLen = 1
	}

	// The tuple is [cores+screen, parseTime, const, counter, userAgent];
	// only the counter changes so the JSON around it is built once.
	head, tail := tupleFrame(meta)
	seed := []byte(ch.Seed)
	hasher := sha3.New512()
	buf := make([]byte, 0, len(head)+len(tail)+20)
	b64 := make([]byte, 0, base64.StdEncoding.EncodedLen(cap(buf)))

	for i := 0; i < maxIterations; i++ {
		if i%cancelCheckEvery == 0 && ctx.Err() != nil {
			return "", false, ctx.Err()
		}

		buf = append(buf[:0], head...)
		buf = strconv.AppendInt(buf, int64(i), 10)
		buf = append(buf, tail...)
		b64 = base64.StdEncoding.AppendEncode(b64[:0], buf)

		hasher.Reset()
		hasher.Write(seed)
		hasher.Write(b64)
		hash := hasher.Sum(nil)

		if diffLen > len(hash) {
			break
		}
		if hex.EncodeToString(hash[:diffLen]) <= ch.Difficulty {
			return proofPrefix + string(b64), true, nil
		}
	}
	return FallbackToken(ch.Seed), false, nil
}

// tupleFrame returns the compact JSON of the tuple split around the
// counter element.
func tupleFrame(meta ClientMetadata) (head, tail []byte) {
	parse, _ := json.Marshal(meta.ParseTime)
	ua, _ := json.Marshal(meta.UserAgent)

	head = append(head, '[')
	head = strconv.AppendInt(head, int64(meta.Cores+meta.Screen), 10)
	head = append(head, ',')
	head = append(head, parse...)
	head = append(head, ',')
	head = strconv.AppendInt(head, hardwareConst, 10)
	head = append(head, ',')

	tail = append(tail, ',')
	tail = append(tail, ua...)
	tail = append(tail, ']')
	return head, tail
}
