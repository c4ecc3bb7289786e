package invitation_test

import (
	"testing"
	"time"

	"github.com/piprate/teamkeep/internal/crypto"
	"github.com/piprate/teamkeep/internal/invitation"
	"github.com/stretchr/testify/require"
)

func newTeamKey(t *testing.T) crypto.SymmetricKey {
	t.Helper()
	return crypto.NewSymmetricKey(crypto.Random(crypto.KeySize))
}

func TestCreateAcceptValidateRoundTrip(t *testing.T) {
	teamKey := newTeamKey(t)

	posted, err := invitation.Create(invitation.CreateParams{
		TeamKey:   teamKey,
		Type:      invitation.KindMember,
		SecretKey: "Abcd-Efgh Ijkl_mnop",
		MaxUses:   1,
		Roles:     []string{"guest"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, posted.ID)

	proof, err := invitation.Accept(invitation.KindMember, "abcdefghijklmnop", invitation.Principal{
		UserName:   "bob",
		PublicKeys: "bobs-encoded-public-key",
	})
	require.NoError(t, err)
	require.Equal(t, posted.ID, proof.ID)

	err = invitation.Validate(proof, invitation.PostedInvitationView{
		Type:             invitation.KindMember,
		EncryptedPayload: posted.EncryptedPayload,
		PublicSigningKey: posted.PublicSigningKey,
		MaxUses:          posted.MaxUses,
	}, teamKey)
	require.NoError(t, err)
}

func TestAcceptNormalizesSecret(t *testing.T) {
	teamKey := newTeamKey(t)

	posted, err := invitation.Create(invitation.CreateParams{
		TeamKey:   teamKey,
		Type:      invitation.KindMember,
		SecretKey: "ABCD-efgh-IJKL-mnop",
	})
	require.NoError(t, err)

	// a differently-punctuated, differently-cased rendering of the same
	// secret derives the identical signing keypair.
	proof, err := invitation.Accept(invitation.KindMember, "abcd efgh ijkl mnop", invitation.Principal{
		UserName:   "bob",
		PublicKeys: "bobs-key",
	})
	require.NoError(t, err)
	require.Equal(t, posted.ID, proof.ID)
}

func TestValidateRejectsForgedIdentity(t *testing.T) {
	teamKey := newTeamKey(t)

	posted, err := invitation.Create(invitation.CreateParams{
		TeamKey:   teamKey,
		Type:      invitation.KindMember,
		UserName:  "bob",
		SecretKey: "s",
	})
	require.NoError(t, err)

	// Eve accepts with the same secret but her own identity.
	evesProof, err := invitation.Accept(invitation.KindMember, "s", invitation.Principal{
		UserName:   "eve",
		PublicKeys: "eves-key",
	})
	require.NoError(t, err)

	err = invitation.Validate(evesProof, invitation.PostedInvitationView{
		Type:             invitation.KindMember,
		EncryptedPayload: posted.EncryptedPayload,
		PublicSigningKey: posted.PublicSigningKey,
	}, teamKey)
	require.ErrorIs(t, err, invitation.ErrNameMismatch)
}

func TestValidateRejectsTamperedPayload(t *testing.T) {
	teamKey := newTeamKey(t)

	posted, err := invitation.Create(invitation.CreateParams{
		TeamKey:   teamKey,
		Type:      invitation.KindMember,
		SecretKey: "s",
	})
	require.NoError(t, err)

	proof, err := invitation.Accept(invitation.KindMember, "s", invitation.Principal{
		UserName:   "bob",
		PublicKeys: "bobs-key",
	})
	require.NoError(t, err)

	// swap in a different public key after signing: the reconstructed tuple
	// no longer matches what was signed.
	proof.Payload.PublicKeys = "swapped-key"

	err = invitation.Validate(proof, invitation.PostedInvitationView{
		Type:             invitation.KindMember,
		EncryptedPayload: posted.EncryptedPayload,
		PublicSigningKey: posted.PublicSigningKey,
	}, teamKey)
	require.ErrorIs(t, err, invitation.ErrBadSignature)
}

func TestValidateRejectsRevokedUsedExpired(t *testing.T) {
	teamKey := newTeamKey(t)

	posted, err := invitation.Create(invitation.CreateParams{
		TeamKey:   teamKey,
		Type:      invitation.KindMember,
		SecretKey: "s",
	})
	require.NoError(t, err)

	proof, err := invitation.Accept(invitation.KindMember, "s", invitation.Principal{
		UserName:   "bob",
		PublicKeys: "bobs-key",
	})
	require.NoError(t, err)

	base := invitation.PostedInvitationView{
		Type:             invitation.KindMember,
		EncryptedPayload: posted.EncryptedPayload,
		PublicSigningKey: posted.PublicSigningKey,
		MaxUses:          1,
	}

	revoked := base
	revoked.Revoked = true
	require.ErrorIs(t, invitation.Validate(proof, revoked, teamKey), invitation.ErrRevoked)

	used := base
	used.UsesCount = 1
	require.ErrorIs(t, invitation.Validate(proof, used, teamKey), invitation.ErrUsed)

	expired := base
	past := time.Now().Add(-time.Hour)
	expired.Expiration = &past
	require.ErrorIs(t, invitation.Validate(proof, expired, teamKey), invitation.ErrExpired)
}

func TestValidateRejectsWrongTeamKey(t *testing.T) {
	teamKey := newTeamKey(t)
	wrongKey := newTeamKey(t)

	posted, err := invitation.Create(invitation.CreateParams{
		TeamKey:   teamKey,
		Type:      invitation.KindMember,
		SecretKey: "s",
	})
	require.NoError(t, err)

	proof, err := invitation.Accept(invitation.KindMember, "s", invitation.Principal{
		UserName:   "bob",
		PublicKeys: "bobs-key",
	})
	require.NoError(t, err)

	err = invitation.Validate(proof, invitation.PostedInvitationView{
		Type:             invitation.KindMember,
		EncryptedPayload: posted.EncryptedPayload,
		PublicSigningKey: posted.PublicSigningKey,
	}, wrongKey)
	require.ErrorIs(t, err, invitation.ErrDecryptionFailed)
}
