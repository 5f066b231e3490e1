package keymanager

import (
	"sort"
	"time"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
)

// KeyState describe en qué etapa del ciclo de vida está una clave.
type KeyState string

const (
	// StatePending: todavía dentro de PropagationTime, solo valida.
	StatePending KeyState = "pending"
	// StateCurrent: es la clave que firma para su algoritmo.
	StateCurrent KeyState = "current"
	// StateActive: podría firmar, pero hay otra más vieja elegida.
	StateActive KeyState = "active"
	// StateExpired: pasó RotationInterval, solo valida.
	StateExpired KeyState = "expired"
	// StateRetired: pasó RotationInterval+RetentionDuration, se descarta.
	StateRetired KeyState = "retired"
)

// clampedAge calcula la edad tomando min(Created, now): una clave con fecha
// futura cuenta como recién creada.
func clampedAge(k *jwt.KeyContainer, now time.Time) time.Duration {
	created := k.Created()
	if created.After(now) {
		created = now
	}
	return now.Sub(created)
}

// matches: si alg exige certificado, la clave tiene que tenerlo. Una clave
// envuelta sirve igual para un algoritmo que no lo exige.
func matches(k *jwt.KeyContainer, alg SigningAlgorithm) bool {
	return k.Algorithm() == alg.Name && (!alg.UseX509Certificate || k.HasX509Certificate())
}

func (o Options) isExpired(k *jwt.KeyContainer, now time.Time) bool {
	return clampedAge(k, now) >= o.RotationInterval
}

func (o Options) isActivated(k *jwt.KeyContainer, now time.Time) bool {
	return clampedAge(k, now) >= o.PropagationTime
}

func (o Options) isRetired(k *jwt.KeyContainer, now time.Time) bool {
	return clampedAge(k, now) >= o.KeyRetirementAge()
}

func (o Options) isRetiredAt(created, now time.Time) bool {
	if created.After(now) {
		return false
	}
	return now.Sub(created) >= o.KeyRetirementAge()
}

func (o Options) withinInitialization(k *jwt.KeyContainer, now time.Time) bool {
	return clampedAge(k, now) < o.InitializationDuration
}

func (o Options) allWithinInitialization(keys []*jwt.KeyContainer, now time.Time) bool {
	for _, k := range keys {
		if !o.withinInitialization(k, now) {
			return false
		}
	}
	return true
}

func (o Options) canBeCurrent(k *jwt.KeyContainer, alg SigningAlgorithm, now time.Time, ignoreActivation bool) bool {
	if !matches(k, alg) || o.isExpired(k, now) {
		return false
	}
	return ignoreActivation || o.isActivated(k, now)
}

// selectCurrent elige la clave más vieja que puede firmar para alg. Si
// ninguna pasó el período de propagación, repite ignorándolo, así un
// despliegue nuevo puede firmar de inmediato.
func (o Options) selectCurrent(keys []*jwt.KeyContainer, alg SigningAlgorithm, now time.Time) *jwt.KeyContainer {
	pick := func(ignoreActivation bool) *jwt.KeyContainer {
		var best *jwt.KeyContainer
		for _, k := range keys {
			if !o.canBeCurrent(k, alg, now, ignoreActivation) {
				continue
			}
			if best == nil || older(k, best) {
				best = k
			}
		}
		return best
	}
	if k := pick(false); k != nil {
		return k
	}
	return pick(true)
}

// rotationRequiredFor decide si hay que crear una clave para alg. Si hay
// claves más nuevas que la actual, la más nueva es la que se evalúa: su
// reemplazo tiene que existir PropagationTime antes de que venza.
func (o Options) rotationRequiredFor(keys []*jwt.KeyContainer, alg SigningAlgorithm, now time.Time) bool {
	current := o.selectCurrent(keys, alg, now)
	if current == nil {
		return true
	}

	effective := current
	for _, k := range keys {
		if matches(k, alg) && k.Created().After(effective.Created()) {
			effective = k
		}
	}

	remaining := o.RotationInterval - effective.Age(now)
	return remaining <= o.PropagationTime
}

func (o Options) rotationRequired(keys []*jwt.KeyContainer, now time.Time) bool {
	for _, alg := range o.Algorithms {
		if o.rotationRequiredFor(keys, alg, now) {
			return true
		}
	}
	return false
}

// currentKeys devuelve una clave por algoritmo configurado, en el orden de
// la configuración, y los nombres de los algoritmos sin clave.
func (o Options) currentKeys(keys []*jwt.KeyContainer, now time.Time) (current []*jwt.KeyContainer, missing []string) {
	current = make([]*jwt.KeyContainer, 0, len(o.Algorithms))
	for _, alg := range o.Algorithms {
		if k := o.selectCurrent(keys, alg, now); k != nil {
			current = append(current, k)
		} else {
			missing = append(missing, alg.Name)
		}
	}
	return current, missing
}

func (o Options) state(keys []*jwt.KeyContainer, k *jwt.KeyContainer, now time.Time) KeyState {
	switch {
	case o.isRetired(k, now):
		return StateRetired
	case o.isExpired(k, now):
		return StateExpired
	}
	if alg, ok := o.algorithm(k.Algorithm()); ok && matches(k, alg) {
		if cur := o.selectCurrent(keys, alg, now); cur != nil && cur.ID() == k.ID() {
			return StateCurrent
		}
	}
	if !o.isActivated(k, now) {
		return StatePending
	}
	return StateActive
}

func older(a, b *jwt.KeyContainer) bool {
	if !a.Created().Equal(b.Created()) {
		return a.Created().Before(b.Created())
	}
	return a.ID() < b.ID()
}

func sortByCreated(keys []*jwt.KeyContainer) {
	sort.SliceStable(keys, func(i, j int) bool { return older(keys[i], keys[j]) })
}

// union agrega a base las claves de extra que no estén, por Id.
func union(base, extra []*jwt.KeyContainer) []*jwt.KeyContainer {
	seen := make(map[string]bool, len(base))
	out := make([]*jwt.KeyContainer, 0, len(base)+len(extra))
	for _, k := range base {
		if !seen[k.ID()] {
			seen[k.ID()] = true
			out = append(out, k)
		}
	}
	for _, k := range extra {
		if !seen[k.ID()] {
			seen[k.ID()] = true
			out = append(out, k)
		}
	}
	return out
}
