// Package keycrypto convierte claves de firma a su forma persistida y vuelta,
// cifrando el material privado con secretbox cuando está habilitado.
package keycrypto

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
	"github.com/dropDatabas3/hellojohn-keys/internal/security/secretbox"
)

// Purpose es el contexto HKDF de las subclaves que protegen claves de firma.
const Purpose = "signing-keys"

// ErrUnprotect envuelve cualquier fallo al recuperar una clave persistida.
var ErrUnprotect = errors.New("keycrypto: cannot unprotect key")

// Protector implementa Protect/Unprotect sobre un secretbox.Box.
type Protector struct {
	box     *secretbox.Box
	protect bool
}

// New crea un Protector. Si dataProtectKeys es true, box es obligatorio y
// se deriva para Purpose. Con dataProtectKeys=false box puede ser nil, pero
// si está se usa para abrir registros protegidos que ya existan.
func New(box *secretbox.Box, dataProtectKeys bool) (*Protector, error) {
	if dataProtectKeys && box == nil {
		return nil, fmt.Errorf("keycrypto: data protection enabled: %w", secretbox.ErrNoMasterKey)
	}
	p := &Protector{protect: dataProtectKeys}
	if box != nil {
		derived, err := box.WithPurpose(Purpose)
		if err != nil {
			return nil, err
		}
		p.box = derived
	}
	return p, nil
}

// Protect serializa k en un envelope versión 1.
func (p *Protector) Protect(k *jwt.KeyContainer) (*jwt.SerializedKey, error) {
	payload, err := jwt.EncodePayload(k)
	if err != nil {
		return nil, fmt.Errorf("encode key %s: %w", k.ID(), err)
	}

	sk := &jwt.SerializedKey{
		Version:           jwt.SerializedKeyVersion,
		ID:                k.ID(),
		Algorithm:         k.Algorithm(),
		IsX509Certificate: k.HasX509Certificate(),
		Created:           k.Created(),
	}
	if p.protect {
		sealed, err := p.box.Seal(payload)
		if err != nil {
			return nil, fmt.Errorf("protect key %s: %w", k.ID(), err)
		}
		sk.Data = sealed
		sk.DataProtected = true
	} else {
		sk.Data = string(payload)
	}
	return sk, nil
}

// Unprotect reconstruye la clave. Todo error envuelve ErrUnprotect y la causa.
func (p *Protector) Unprotect(sk *jwt.SerializedKey) (*jwt.KeyContainer, error) {
	if sk == nil {
		return nil, fmt.Errorf("%w: nil record", ErrUnprotect)
	}
	if err := sk.Validate(); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrUnprotect, sk.ID, err)
	}

	payload := []byte(sk.Data)
	if sk.DataProtected {
		if p.box == nil {
			return nil, fmt.Errorf("%w %s: %w", ErrUnprotect, sk.ID, secretbox.ErrNoMasterKey)
		}
		pt, err := p.box.Open(sk.Data)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrUnprotect, sk.ID, err)
		}
		payload = pt
	}

	k, err := jwt.DecodePayload(sk.Algorithm, sk.IsX509Certificate, payload)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrUnprotect, sk.ID, err)
	}
	if k.ID() != sk.ID {
		return nil, fmt.Errorf("%w %s: %w", ErrUnprotect, sk.ID, jwt.ErrKeyIDMismatch)
	}
	return k, nil
}
