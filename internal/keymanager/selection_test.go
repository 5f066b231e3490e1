package keymanager

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
)

func TestOptions_Validate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	cases := map[string]func(o *Options){
		"negative duration":      func(o *Options) { o.KeyCacheDuration = -time.Second },
		"rotation below propag.": func(o *Options) { o.RotationInterval = o.PropagationTime },
		"zero retention":         func(o *Options) { o.RetentionDuration = 0 },
		"zero lock timeout":      func(o *Options) { o.CreationLockTimeout = 0 },
		"no algorithms":          func(o *Options) { o.Algorithms = nil },
		"duplicate algorithm": func(o *Options) {
			o.Algorithms = []SigningAlgorithm{{Name: "RS256"}, {Name: "RS256"}}
		},
		"small rsa key": func(o *Options) {
			o.Algorithms = []SigningAlgorithm{{Name: "RS256", RSAKeySize: 1024}}
		},
		"ec with certificate": func(o *Options) {
			o.Algorithms = []SigningAlgorithm{{Name: "ES256", UseX509Certificate: true}}
		},
		"unsupported algorithm": func(o *Options) {
			o.Algorithms = []SigningAlgorithm{{Name: "HS256"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := DefaultOptions()
			mutate(&o)
			err := o.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidOptions))
		})
	}
}

func TestOptions_ValidateReportsEveryViolation(t *testing.T) {
	o := DefaultOptions()
	o.RetentionDuration = 0
	o.Algorithms = []SigningAlgorithm{{Name: "none"}}

	err := o.Validate()
	require.ErrorIs(t, err, ErrInvalidOptions)
	require.Contains(t, err.Error(), "RetentionDuration")
	require.Contains(t, err.Error(), `"none"`)
}

func TestSelectCurrent_OldestActivatedWins(t *testing.T) {
	o := testOptions("ES256")
	now := epoch

	expired := newKey(t, "ES256", now.Add(-95*day))
	oldest := newKey(t, "ES256", now.Add(-40*day))
	younger := newKey(t, "ES256", now.Add(-20*day))
	pending := newKey(t, "ES256", now.Add(-1*day))
	otherAlg := newKey(t, "ES384", now.Add(-60*day))

	keys := []*jwt.KeyContainer{pending, younger, expired, otherAlg, oldest}
	cur := o.selectCurrent(keys, o.Algorithms[0], now)
	require.NotNil(t, cur)
	require.Equal(t, oldest.ID(), cur.ID())

	require.Equal(t, StateExpired, o.state(keys, expired, now))
	require.Equal(t, StateCurrent, o.state(keys, oldest, now))
	require.Equal(t, StateActive, o.state(keys, younger, now))
	require.Equal(t, StatePending, o.state(keys, pending, now))
}

func TestSelectCurrent_FallsBackToPendingKeys(t *testing.T) {
	o := testOptions("ES256")
	now := epoch

	a := newKey(t, "ES256", now.Add(-2*time.Hour))
	b := newKey(t, "ES256", now.Add(-time.Hour))

	cur := o.selectCurrent([]*jwt.KeyContainer{b, a}, o.Algorithms[0], now)
	require.NotNil(t, cur)
	require.Equal(t, a.ID(), cur.ID())
}

func TestSelectCurrent_MixedAges(t *testing.T) {
	o := testOptions("ES256")
	now := epoch

	tenSec := newKey(t, "ES256", now.Add(-10*time.Second))
	fiveSec := newKey(t, "ES256", now.Add(-5*time.Second))
	future := newKey(t, "ES256", now.Add(5*time.Second))
	expired := newKey(t, "ES256", now.Add(-(o.RotationInterval + 5*time.Second)))

	// ninguna pasó PropagationTime: gana la más vieja que no venció
	keys := []*jwt.KeyContainer{future, expired, fiveSec, tenSec}
	cur := o.selectCurrent(keys, o.Algorithms[0], now)
	require.NotNil(t, cur)
	require.Equal(t, tenSec.ID(), cur.ID())
	require.Equal(t, StateExpired, o.state(keys, expired, now))
}

func TestSelectCurrent_TieBrokenByID(t *testing.T) {
	o := testOptions("ES256")
	now := epoch
	created := now.Add(-30 * day)

	a := newKey(t, "ES256", created)
	b := newKey(t, "ES256", created)
	want := a
	if b.ID() < a.ID() {
		want = b
	}

	require.Equal(t, want.ID(), o.selectCurrent([]*jwt.KeyContainer{a, b}, o.Algorithms[0], now).ID())
	require.Equal(t, want.ID(), o.selectCurrent([]*jwt.KeyContainer{b, a}, o.Algorithms[0], now).ID())
}

func TestSelectCurrent_CertificateRequirement(t *testing.T) {
	now := epoch
	plain := newKey(t, "RS256", now.Add(-30*day))
	wrapped, err := jwt.GenerateKey("RS256", jwt.GenerateOptions{UseX509Certificate: true}, now.Add(-30*day))
	require.NoError(t, err)

	withCert := testOptions("RS256")
	withCert.Algorithms[0].UseX509Certificate = true
	require.Nil(t, withCert.selectCurrent([]*jwt.KeyContainer{plain}, withCert.Algorithms[0], now))
	require.True(t, withCert.rotationRequiredFor([]*jwt.KeyContainer{plain}, withCert.Algorithms[0], now))
	require.Equal(t, wrapped.ID(),
		withCert.selectCurrent([]*jwt.KeyContainer{plain, wrapped}, withCert.Algorithms[0], now).ID())

	// sin exigir certificado, una clave envuelta sigue sirviendo
	plainOnly := testOptions("RS256")
	keys := []*jwt.KeyContainer{wrapped}
	require.Equal(t, wrapped.ID(), plainOnly.selectCurrent(keys, plainOnly.Algorithms[0], now).ID())
	require.False(t, plainOnly.rotationRequiredFor(keys, plainOnly.Algorithms[0], now))
	require.Equal(t, StateCurrent, plainOnly.state(keys, wrapped, now))
}

func TestRotationRequired_Boundary(t *testing.T) {
	o := testOptions("ES256")
	now := epoch
	threshold := o.RotationInterval - o.PropagationTime

	atBoundary := newKey(t, "ES256", now.Add(-threshold))
	require.True(t, o.rotationRequired([]*jwt.KeyContainer{atBoundary}, now))

	justBefore := newKey(t, "ES256", now.Add(-threshold+time.Second))
	require.False(t, o.rotationRequired([]*jwt.KeyContainer{justBefore}, now))

	require.True(t, o.rotationRequired(nil, now))
}

func TestRotationRequired_YoungerSuccessorSatisfiesRotation(t *testing.T) {
	o := testOptions("ES256")
	now := epoch

	old := newKey(t, "ES256", now.Add(-80*day))
	successor := newKey(t, "ES256", now.Add(-2*day))
	keys := []*jwt.KeyContainer{old, successor}

	require.Equal(t, old.ID(), o.selectCurrent(keys, o.Algorithms[0], now).ID())
	require.False(t, o.rotationRequired(keys, now))
	require.True(t, o.rotationRequired([]*jwt.KeyContainer{old}, now))
}

func TestFutureDatedKey(t *testing.T) {
	o := testOptions("ES256")
	now := epoch

	future := newKey(t, "ES256", now.Add(time.Hour))
	keys := []*jwt.KeyContainer{future}

	require.Equal(t, time.Duration(0), clampedAge(future, now))
	require.Equal(t, future.ID(), o.selectCurrent(keys, o.Algorithms[0], now).ID())
	require.False(t, o.rotationRequired(keys, now))
	require.False(t, o.isRetired(future, now))
	require.True(t, o.allWithinInitialization(keys, now))
}

func TestRetirement(t *testing.T) {
	o := testOptions("ES256")
	now := epoch
	age := o.KeyRetirementAge()

	retired := newKey(t, "ES256", now.Add(-age))
	alive := newKey(t, "ES256", now.Add(-age+time.Second))

	require.True(t, o.isRetired(retired, now))
	require.False(t, o.isRetired(alive, now))
	require.Equal(t, StateRetired, o.state(nil, retired, now))
	require.True(t, o.isRetiredAt(retired.Created(), now))
	require.False(t, o.isRetiredAt(now.Add(time.Hour), now))
}

func TestCurrentKeys_ReportsMissingAlgorithms(t *testing.T) {
	o := testOptions("ES256", "ES384")
	now := epoch

	k := newKey(t, "ES384", now.Add(-20*day))
	current, missing := o.currentKeys([]*jwt.KeyContainer{k}, now)
	require.Equal(t, []string{k.ID()}, ids(current))
	require.Equal(t, []string{"ES256"}, missing)
}

func TestUnion(t *testing.T) {
	a := newKey(t, "ES256", epoch)
	b := newKey(t, "ES256", epoch)
	c := newKey(t, "ES256", epoch)

	got := union([]*jwt.KeyContainer{a, b}, []*jwt.KeyContainer{b, c})
	require.Equal(t, []string{a.ID(), b.ID(), c.ID()}, ids(got))
}
