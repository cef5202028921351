// Package player answers playback-mode requests from a loaded recording:
// hash-based matching, at-most-once consumption, and rewriting of the
// recorded response with playback-time identifiers.
package player

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/snarg/wsreplay/internal/hash"
	"github.com/snarg/wsreplay/internal/protocol"
	"github.com/snarg/wsreplay/internal/recording"
	"github.com/snarg/wsreplay/internal/translate"
)

// Player serves responses out of one recording. The recording itself is
// immutable; consumption is tracked in the used set, so a recording can
// back several players.
type Player struct {
	mu     sync.Mutex
	src    recording.Source
	index  *recording.HashIndex
	used   map[int]struct{}
	ids    *translate.Map
	hasher hash.Hasher
	log    zerolog.Logger
}

// New builds a player over a loaded recording and its hash index.
func New(src recording.Source, index *recording.HashIndex, hasher hash.Hasher, log zerolog.Logger) *Player {
	return &Player{
		src:    src,
		index:  index,
		used:   make(map[int]struct{}),
		ids:    translate.NewMap(),
		hasher: hasher,
		log:    log.With().Str("component", "player").Logger(),
	}
}

// Translations exposes the session's ID translation map.
func (p *Player) Translations() *translate.Map {
	return p.ids
}

// UsedCount reports how many recorded messages have been consumed.
func (p *Player) UsedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}

// FindMatch returns the lowest-indexed unused message carrying the hash,
// decoding only that message. When the hash is absent from the index it
// falls back to a linear scan. Does not consume the match.
func (p *Player) FindMatch(payloadHash string) (int, recording.RecordedMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.findMatchLocked(payloadHash)
}

func (p *Player) findMatchLocked(payloadHash string) (int, recording.RecordedMessage, bool) {
	if p.index.Contains(payloadHash) {
		for _, i := range p.index.Bucket(payloadHash) {
			if _, taken := p.used[i]; taken {
				continue
			}
			msg, err := p.src.Message(i)
			if err != nil {
				p.log.Warn().Err(err).Int("index", i).Msg("skipping undecodable recorded message")
				continue
			}
			return i, msg, true
		}
		return 0, recording.RecordedMessage{}, false
	}

	// Hash missing from the index: linear scan with the same used-set filter.
	for i := 0; i < p.src.Len(); i++ {
		if _, taken := p.used[i]; taken {
			continue
		}
		h, err := p.src.MessageHash(i)
		if err != nil || h != payloadHash || h == "" {
			continue
		}
		msg, err := p.src.Message(i)
		if err != nil {
			continue
		}
		return i, msg, true
	}
	return 0, recording.RecordedMessage{}, false
}

// PlaybackRequest matches the command against the recording and returns
// the stored response rewritten with the command's routing fields. The
// recorded eventSeq, timestamp, and payload are preserved.
func (p *Player) PlaybackRequest(cmdEnv protocol.Envelope) (protocol.Envelope, error) {
	req := cmdEnv.Payload.Payload

	// A producer-supplied hash wins; re-hashing is only for envelopes
	// that arrived without one.
	var payloadHash string
	if cmdEnv.PayloadHash != nil && *cmdEnv.PayloadHash != "" {
		payloadHash = *cmdEnv.PayloadHash
	} else {
		var err error
		payloadHash, err = p.hasher.Hash(req)
		if err != nil {
			return protocol.Envelope{}, protocol.UnexpectedPayload(err.Error())
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	matchIdx, matched, ok := p.findMatchLocked(payloadHash)
	if !ok {
		if p.index.Contains(payloadHash) {
			return protocol.Envelope{}, protocol.AllMatchesUsed(req)
		}
		return protocol.Envelope{}, protocol.NoMatchFound(req)
	}

	// At-most-once consumption.
	p.used[matchIdx] = struct{}{}

	recordedStream := matched.Envelope.StreamID
	p.ids.RecordStream(recordedStream, cmdEnv.StreamID)
	p.ids.RecordTrace(matched.Envelope.TraceID, cmdEnv.TraceID)

	// The response is the first from_harness message after the match
	// with the same recorded stream ID.
	response, found := p.findResponseLocked(matchIdx, recordedStream)
	if !found {
		return protocol.Envelope{}, protocol.InvalidRequest("No corresponding response")
	}

	out := protocol.Envelope{
		StreamID:          cmdEnv.StreamID,
		TraceID:           cmdEnv.TraceID,
		CausationStreamID: cmdEnv.CausationStreamID,
		ParentStreamID:    cmdEnv.ParentStreamID,
		SiblingIndex:      cmdEnv.SiblingIndex,
		EventSeq:          response.Envelope.EventSeq,
		Timestamp:         response.Envelope.Timestamp,
		Channel:           cmdEnv.Channel,
		Payload:           response.Envelope.Payload,
	}
	p.log.Debug().
		Int("match_index", matchIdx).
		Str("recorded_stream", string(recordedStream)).
		Str("playback_stream", string(cmdEnv.StreamID)).
		Msg("playback match")
	return out, nil
}

func (p *Player) findResponseLocked(matchIdx int, streamID protocol.StreamID) (recording.RecordedMessage, bool) {
	for j := matchIdx + 1; j < p.src.Len(); j++ {
		msg, err := p.src.Message(j)
		if err != nil {
			continue
		}
		if msg.Direction == protocol.DirectionFromHarness && msg.Envelope.StreamID == streamID {
			return msg, true
		}
	}
	return recording.RecordedMessage{}, false
}
