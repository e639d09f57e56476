package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"alma/internal/log"
	"alma/internal/session"
	"alma/internal/voice"
)

// renderCommand writes the voice overlay for the session's command.
func (s *Server) renderCommand(w http.ResponseWriter, r *http.Request, st *session.State, b *HTMXResponseBuilder) {
	s.renderPartial(w, r, st, b, "voice_overlay", s.page(st, "", "", st.Command.Snapshot()))
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, voice.ErrCommandBusy), errors.Is(err, voice.ErrNotListening):
		return http.StatusConflict
	case errors.Is(err, voice.ErrCommandClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// handleVoicePress starts listening and silences any playing clip.
func (s *Server) handleVoicePress(w http.ResponseWriter, r *http.Request, st *session.State) {
	b := NewHTMXResponse()
	if err := st.Command.Press(); err != nil {
		b.Status(commandStatus(err))
	} else {
		st.Player.Stop()
		b.TriggerVoiceStop()
	}
	s.renderCommand(w, r, st, b)
}

// handleVoiceRelease hands the browser's transcript over for processing.
// The overlay then polls /voice/status until the command settles.
func (s *Server) handleVoiceRelease(w http.ResponseWriter, r *http.Request, st *session.State) {
	b := NewHTMXResponse()
	if err := st.Command.Release(formValue(r, "transcript")); err != nil {
		b.Status(commandStatus(err))
	}
	s.renderCommand(w, r, st, b)
}

func (s *Server) handleVoiceStatus(w http.ResponseWriter, r *http.Request, st *session.State) {
	s.renderCommand(w, r, st, nil)
}

func (s *Server) handleVoiceCancel(w http.ResponseWriter, r *http.Request, st *session.State) {
	st.Command.Cancel()
	s.renderCommand(w, r, st, nil)
}

func (s *Server) handleVoiceDismiss(w http.ResponseWriter, r *http.Request, st *session.State) {
	st.Command.Dismiss()
	s.renderCommand(w, r, st, nil)
}

// handleVoiceApply turns a recognised command into a wizard draft parked
// on the review step and navigates to it.
func (s *Server) handleVoiceApply(w http.ResponseWriter, r *http.Request, st *session.State) {
	snap := st.Command.Snapshot()
	if snap.State != voice.CommandSuccess {
		s.renderCommand(w, r, st, NewHTMXResponse().Status(http.StatusConflict))
		return
	}
	if !voice.FitsKeypad(snap.Result.Amount) {
		st.Command.Fail(voice.ErrAmountTooLarge)
		s.renderCommand(w, r, st, NewHTMXResponse().Status(http.StatusUnprocessableEntity))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 7*time.Second)
	defer cancel()

	st.Wizard.Reset()
	s.setSource(ctx, st, "")
	err := st.Wizard.SelectContact(ctx, snap.Result.To.ID)
	for _, d := range snap.Result.Amount.String() {
		if err != nil {
			break
		}
		err = st.Wizard.EnterDigit(d)
	}
	if err == nil {
		err = st.Wizard.ConfirmAmount(ctx)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "Voice command left the transfer incomplete",
			log.FieldError, err, log.FieldStep, st.Wizard.Step().String())
	}
	st.Command.Dismiss()
	redirect(w, r, "/send?resume=1")
}

// handleVoicePlay replays a phrase on demand. Unknown keys are 404; a
// phrase with no recorded clip only stops what was playing.
func (s *Server) handleVoicePlay(w http.ResponseWriter, r *http.Request, st *session.State) {
	key := r.PathValue("key")
	if !voice.ValidKey(key) {
		NotFoundError("Unknown phrase").Write(w)
		return
	}
	b := NewHTMXResponse().Status(http.StatusNoContent)
	if cue, ok := st.Player.Play(r.Context(), key); ok {
		b.TriggerVoice(cue)
	} else if st.Player.TakeSilenced() {
		b.TriggerVoiceStop()
	}
	b.Write(w)
}

// handleVoiceEnded marks the clip with the posted sequence as finished.
func (s *Server) handleVoiceEnded(w http.ResponseWriter, r *http.Request, st *session.State) {
	seq, err := strconv.ParseUint(r.FormValue("seq"), 10, 64)
	if err != nil {
		BadRequestError("Invalid sequence").Write(w)
		return
	}
	st.Player.Ended(seq)
	w.WriteHeader(http.StatusNoContent)
}
