package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del ciclo de vida de claves de firma. Viven en un paquete aparte
// para que keymanager y los binarios las compartan sin ciclos de import.

var (
	KeysCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signing_keys_created_total",
		Help: "Claves de firma creadas por esta réplica",
	}, []string{"alg"})

	KeyCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signing_key_cache_total",
		Help: "Lecturas del conjunto de claves por resultado (hit|miss)",
	}, []string{"result"})

	KeyLoadFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signing_key_load_failures_total",
		Help: "Registros descartados al cargar del store, por motivo",
	}, []string{"reason"})

	RetiredKeysDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signing_keys_retired_deleted_total",
		Help: "Claves retiradas borradas del store",
	})

	CreationLockWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "signing_key_creation_lock_wait_seconds",
		Help:    "Espera por el lock de creación de claves",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	CurrentKeyAge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "signing_key_current_age_seconds",
		Help: "Edad de la clave de firma actual por algoritmo",
	}, []string{"alg"})
)

func all() []prometheus.Collector {
	return []prometheus.Collector{KeysCreated, KeyCache, KeyLoadFailures, RetiredKeysDeleted, CreationLockWait, CurrentKeyAge}
}

// RegisterKeys registra las métricas en reg (o en el default si es nil).
// Registrar dos veces no es error.
func RegisterKeys(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range all() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
