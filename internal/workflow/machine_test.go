package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armslicense/armslicense/internal/catalog"
)

func mustParse(t *testing.T, code string) Action {
	t.Helper()
	a, err := ParseAction(code)
	require.NoError(t, err)
	return a
}

func TestSubmitFromDraftKeepsOwner(t *testing.T) {
	out, err := Next(StateDraft, mustParse(t, catalog.PermSubmitApplication))
	require.NoError(t, err)
	require.Equal(t, StateSubmitted, out.To)
	require.Equal(t, OwnerUnchanged, out.Owner)
	require.False(t, out.RestorePrior)
}

func TestForwardAndReturn(t *testing.T) {
	fwd := mustParse(t, "forward_to_acp")
	require.Equal(t, KindForward, fwd.Kind)
	require.Equal(t, catalog.RoleACP, fwd.Target)

	for _, s := range []State{StateSubmitted, StateUnderReview, StateForwarded, StateReturned} {
		out, err := Next(s, fwd)
		require.NoError(t, err, s)
		require.Equal(t, StateForwarded, out.To)
		require.Equal(t, OwnerTarget, out.Owner)
	}
	_, err := Next(StateDraft, fwd)
	require.ErrorIs(t, err, ErrInvalidTransition)

	ret := mustParse(t, catalog.PermReturnApplication)
	out, err := Next(StateForwarded, ret)
	require.NoError(t, err)
	require.Equal(t, StateReturned, out.To)
	require.Equal(t, OwnerPrior, out.Owner)
	_, err = Next(StateSubmitted, ret)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRedFlagToggles(t *testing.T) {
	flag := mustParse(t, catalog.PermRedFlag)
	out, err := Next(StateForwarded, flag)
	require.NoError(t, err)
	require.Equal(t, StateRedFlagged, out.To)

	out, err = Next(StateRedFlagged, flag)
	require.NoError(t, err)
	require.True(t, out.RestorePrior)

	clearFlag := mustParse(t, catalog.PermClearRedFlag)
	out, err = Next(StateRedFlagged, clearFlag)
	require.NoError(t, err)
	require.True(t, out.RestorePrior)
	_, err = Next(StateForwarded, clearFlag)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTerminalStatesOnlyAdmitDispose(t *testing.T) {
	actions := []Action{ForwardAction(catalog.RoleCP)}
	for _, code := range ActionCodes() {
		actions = append(actions, mustParse(t, code))
	}
	for _, s := range States() {
		if !s.IsTerminal() {
			continue
		}
		for _, a := range actions {
			out, err := Next(s, a)
			if a.Kind == KindDispose && s != StateFinalDisposal {
				require.NoError(t, err)
				require.Equal(t, StateFinalDisposal, out.To)
				continue
			}
			require.ErrorIs(t, err, ErrInvalidTransition, "%s on %s", a.Code, s)
		}
	}
}

func TestApproveAndReject(t *testing.T) {
	for _, code := range []string{catalog.PermApproveTA, catalog.PermApproveAI} {
		out, err := Next(StateUnderReview, mustParse(t, code))
		require.NoError(t, err)
		require.Equal(t, StateDisposedApproved, out.To)
	}
	_, err := Next(StateRedFlagged, mustParse(t, catalog.PermApproveTA))
	require.ErrorIs(t, err, ErrInvalidTransition)

	out, err := Next(StateRedFlagged, mustParse(t, catalog.PermReject))
	require.NoError(t, err)
	require.Equal(t, StateDisposedRejected, out.To)
}

func TestParseActionRejectsUnknown(t *testing.T) {
	_, err := ParseAction("TELEPORT")
	require.ErrorIs(t, err, ErrUnknownAction)
	_, err = ParseAction(catalog.ForwardPrefix)
	require.ErrorIs(t, err, ErrUnknownAction)
}
