package videocall

import (
	"fmt"
	"sort"
)

// Assignment binds each role to the stream that carries it.
type Assignment struct {
	Audio   Candidate
	Video   Candidate
	Control Candidate
}

// Ports returns the audio, video and control ports in that order.
func (a Assignment) Ports() []uint16 {
	return []uint16{a.Audio.Port, a.Video.Port, a.Control.Port}
}

// Classification is the outcome of one discovery cycle. Assignment is only
// meaningful when Assigned is true; otherwise Reason explains why the cycle
// was inconclusive.
type Classification struct {
	Assigned   bool
	Assignment Assignment
	Reason     string
}

func inconclusive(format string, args ...any) Classification {
	return Classification{Reason: fmt.Sprintf(format, args...)}
}

// RoleForMean maps an average qualifying packet size to a role.
func RoleForMean(mean float64, cfg Config) Role {
	switch {
	case mean > float64(cfg.VideoMinBytes):
		return RoleVideo
	case mean > float64(cfg.AudioMinBytes):
		return RoleAudio
	default:
		return RoleControl
	}
}

// Classify guesses which stream is audio, video and control from their mean
// qualifying packet sizes. Either all three roles are assigned to distinct
// ports or the result is inconclusive; partial assignments are never
// returned. The result does not depend on the order of candidates.
func Classify(candidates []Candidate, cfg Config) Classification {
	type guess struct {
		c    Candidate
		role Role
	}

	var survivors []guess
	for _, c := range candidates {
		if c.QualifyingCount < cfg.MinSamplesPerCandidate {
			continue
		}
		mean, ok := c.MeanSize()
		if !ok {
			continue
		}
		survivors = append(survivors, guess{c: c, role: RoleForMean(mean, cfg)})
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].c.Port < survivors[j].c.Port })

	if len(survivors) == 0 {
		return inconclusive("no stream reached %d qualifying packets", cfg.MinSamplesPerCandidate)
	}

	byRole := make(map[Role]Candidate, 3)
	media := 0
	for _, g := range survivors {
		if prev, dup := byRole[g.role]; dup {
			return inconclusive("ports %d and %d both classified as %s", prev.Port, g.c.Port, g.role)
		}
		byRole[g.role] = g.c
		if g.role != RoleControl {
			media++
		}
	}

	if media < 2 {
		return inconclusive("audio and video not separable: %d media stream(s) among %d", media, len(survivors))
	}
	if len(survivors) != 3 {
		return inconclusive("expected 3 streams, found %d", len(survivors))
	}

	// Three survivors with no duplicate role and two media roles can only be
	// audio, video and control.
	return Classification{
		Assigned: true,
		Assignment: Assignment{
			Audio:   byRole[RoleAudio],
			Video:   byRole[RoleVideo],
			Control: byRole[RoleControl],
		},
	}
}
