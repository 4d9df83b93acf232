package tts

import "github.com/ivrcore/mediacore/pkg/types"

// VoiceProfile is an alias of the shared pkg/types definition: Provider's
// methods are typed in terms of pkg/types so that callers outside this
// package never need to convert between a tts-local shape and the shared
// one.
type VoiceProfile = types.VoiceProfile
