package keymanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
)

var (
	// ErrInvalidOptions envuelve todas las violaciones de configuración.
	ErrInvalidOptions = errors.New("keymanager: invalid options")

	// ErrLockTimeout indica que no se obtuvo el lock de creación a tiempo.
	ErrLockTimeout = errors.New("keymanager: timeout waiting for key creation lock")

	// ErrNoSigningKey indica que algún algoritmo quedó sin clave actual.
	ErrNoSigningKey = errors.New("keymanager: no signing key available")
)

// SigningAlgorithm es un algoritmo configurado con sus opciones de material.
type SigningAlgorithm struct {
	Name string
	// RSAKeySize en bits; 0 usa jwt.DefaultRSAKeySize. Ignorado en EC.
	RSAKeySize int
	// UseX509Certificate envuelve la clave RSA en un certificado autofirmado.
	UseX509Certificate bool
}

// Options es la política de rotación.
type Options struct {
	// Algorithms a mantener; el primero es el algoritmo de firma por defecto.
	Algorithms []SigningAlgorithm

	// InitializationDuration: mientras todas las claves tengan menos de esta
	// edad el sistema se considera recién inicializado.
	InitializationDuration time.Duration
	// InitializationSynchronizationDelay: espera después de crear claves en
	// inicialización antes de recargar del store.
	InitializationSynchronizationDelay time.Duration
	// InitializationKeyCacheDuration: TTL del cache durante la inicialización.
	InitializationKeyCacheDuration time.Duration
	// KeyCacheDuration: TTL del cache en régimen.
	KeyCacheDuration time.Duration

	// PropagationTime: una clave nueva no firma hasta tener esta edad.
	PropagationTime time.Duration
	// RotationInterval: edad a partir de la cual una clave deja de firmar.
	RotationInterval time.Duration
	// RetentionDuration: tiempo extra que una clave vencida sigue validando.
	RetentionDuration time.Duration

	// CreationLockTimeout: espera máxima por el lock de creación.
	CreationLockTimeout time.Duration

	// DeleteRetiredKeys borra del store las claves retiradas al cargarlas.
	DeleteRetiredKeys bool

	// CertificateSubject es el CN de los certificados autofirmados.
	CertificateSubject string
}

// DefaultOptions devuelve la política por defecto: RS256, rotación cada 90
// días, 14 días de propagación y 14 de retención.
func DefaultOptions() Options {
	return Options{
		Algorithms:                         []SigningAlgorithm{{Name: "RS256", RSAKeySize: jwt.DefaultRSAKeySize}},
		InitializationDuration:             5 * time.Minute,
		InitializationSynchronizationDelay: 5 * time.Second,
		InitializationKeyCacheDuration:     time.Minute,
		KeyCacheDuration:                   24 * time.Hour,
		PropagationTime:                    14 * 24 * time.Hour,
		RotationInterval:                   90 * 24 * time.Hour,
		RetentionDuration:                  14 * 24 * time.Hour,
		CreationLockTimeout:                30 * time.Second,
		DeleteRetiredKeys:                  true,
		CertificateSubject:                 jwt.DefaultCertificateSubject,
	}
}

// KeyRetirementAge es la edad a partir de la cual una clave ya no valida.
func (o Options) KeyRetirementAge() time.Duration {
	return o.RotationInterval + o.RetentionDuration
}

// DefaultAlgorithm es el primer algoritmo configurado.
func (o Options) DefaultAlgorithm() string {
	if len(o.Algorithms) == 0 {
		return ""
	}
	return o.Algorithms[0].Name
}

func (o Options) algorithm(name string) (SigningAlgorithm, bool) {
	for _, a := range o.Algorithms {
		if a.Name == name {
			return a, true
		}
	}
	return SigningAlgorithm{}, false
}

// Validate junta todas las violaciones en un único error que envuelve
// ErrInvalidOptions.
func (o Options) Validate() error {
	var errs []error

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"InitializationDuration", o.InitializationDuration},
		{"InitializationSynchronizationDelay", o.InitializationSynchronizationDelay},
		{"InitializationKeyCacheDuration", o.InitializationKeyCacheDuration},
		{"KeyCacheDuration", o.KeyCacheDuration},
		{"PropagationTime", o.PropagationTime},
		{"RotationInterval", o.RotationInterval},
		{"RetentionDuration", o.RetentionDuration},
		{"CreationLockTimeout", o.CreationLockTimeout},
	}
	for _, d := range durations {
		if d.d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative (got %s)", d.name, d.d))
		}
	}
	if o.RotationInterval <= o.PropagationTime {
		errs = append(errs, fmt.Errorf("RotationInterval (%s) must be greater than PropagationTime (%s)",
			o.RotationInterval, o.PropagationTime))
	}
	if o.RetentionDuration <= 0 {
		errs = append(errs, errors.New("RetentionDuration must be greater than zero"))
	}
	if o.CreationLockTimeout == 0 {
		errs = append(errs, errors.New("CreationLockTimeout must be greater than zero"))
	}

	if len(o.Algorithms) == 0 {
		errs = append(errs, errors.New("at least one signing algorithm is required"))
	}
	seen := make(map[string]bool, len(o.Algorithms))
	for _, a := range o.Algorithms {
		if seen[a.Name] {
			errs = append(errs, fmt.Errorf("duplicate signing algorithm %q", a.Name))
			continue
		}
		seen[a.Name] = true

		switch jwt.FamilyOf(a.Name) {
		case jwt.FamilyRSA:
			if a.RSAKeySize != 0 && a.RSAKeySize < jwt.MinRSAKeySize {
				errs = append(errs, fmt.Errorf("%s: RSA key size %d is below %d", a.Name, a.RSAKeySize, jwt.MinRSAKeySize))
			}
		case jwt.FamilyEC:
			if a.UseX509Certificate {
				errs = append(errs, fmt.Errorf("%s: EC keys cannot be wrapped in an X.509 certificate", a.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("unsupported signing algorithm %q", a.Name))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(errs...))
}
