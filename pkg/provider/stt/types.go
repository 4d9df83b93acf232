package stt

import "github.com/ivrcore/mediacore/pkg/types"

// Transcript, WordDetail, and KeywordBoost are aliases of the shared
// pkg/types definitions: SessionHandle's Partials/Finals channels and
// StreamConfig.Keywords are typed in terms of pkg/types so that callers
// outside this package (the media handler, the transcript corrector) never
// need to convert between an stt-local shape and the shared one.
type (
	Transcript   = types.Transcript
	WordDetail   = types.WordDetail
	KeywordBoost = types.KeywordBoost
)
