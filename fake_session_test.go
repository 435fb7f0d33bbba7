package hysteresis

import (
	"context"
	"time"
)

// fakeSession is a scripted Session. Each poll is answered by respond,
// which is given the 1-based poll number.
type fakeSession struct {
	offsets   [][]AuxOffset
	syncs     int
	polls     int
	dwells    []time.Duration
	clockbase float64
	respond   func(n int, paths []string) (PollData, error)
	failSet   error
}

func newFakeSession(samples int) *fakeSession {
	return &fakeSession{clockbase: 10, respond: steady(samples)}
}

// steady answers every poll with samples points spaced 10 ticks apart,
// x=3, y=4, and a scope wave twice as long.
func steady(samples int) func(int, []string) (PollData, error) {
	return func(n int, paths []string) (PollData, error) {
		data := PollData{}
		for _, p := range paths {
			var rec Record
			if p == DefaultChannels().ScopePath() {
				rec.Wave = make([]float64, 2*samples)
				for i := range rec.Wave {
					rec.Wave[i] = float64(i)
				}
			} else {
				for i := 0; i < samples; i++ {
					rec.X = append(rec.X, 3)
					rec.Y = append(rec.Y, 4)
					rec.Timestamp = append(rec.Timestamp, uint64(n*1000+i*10))
				}
			}
			data[p] = rec
		}
		return data, nil
	}
}

func (f *fakeSession) SetOffsets(_ context.Context, offsets ...AuxOffset) error {
	if f.failSet != nil {
		return f.failSet
	}
	f.offsets = append(f.offsets, append([]AuxOffset(nil), offsets...))
	return nil
}

func (f *fakeSession) Sync(context.Context) error {
	f.syncs++
	return nil
}

func (f *fakeSession) Poll(_ context.Context, dwell, _ time.Duration, paths ...string) (PollData, error) {
	f.polls++
	f.dwells = append(f.dwells, dwell)
	return f.respond(f.polls, paths)
}

func (f *fakeSession) Clockbase(context.Context) (float64, error) { return f.clockbase, nil }

type preparingSession struct {
	*fakeSession
	prepared, released int
}

func (p *preparingSession) Prepare(context.Context, Channels, SweepConfig) error {
	p.prepared++
	return nil
}

func (p *preparingSession) Release(context.Context, Channels) error {
	p.released++
	return nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }
