package fixup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgefixup_registrations_total",
		Help: "Tile registrations by outcome (active, disabled, deferred, rejected)",
	}, []string{"result"})

	unregistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgefixup_unregistrations_total",
		Help: "Tile unregistrations by outcome (disabled, promoted, unmapped)",
	}, []string{"result"})

	configMismatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgefixup_config_mismatch_total",
		Help: "Tiles whose resolution, orientation, scale or alignment disagree with their group",
	}, []string{"kind"})

	collisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgefixup_coordinate_collisions_total",
		Help: "Tiles displaced because their grid coordinate was already taken",
	})

	recapturesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgefixup_recaptures_total",
		Help: "Edge snapshots captured",
	})

	changedDirectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgefixup_changed_directions_total",
		Help: "Border directions reported changed by snapshot diffs",
	})

	patchedRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgefixup_patched_rows_total",
		Help: "Border rows written to rasters",
	}, []string{"mode"})

	deferredPatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgefixup_deferred_patches_total",
		Help: "Patches postponed because the raster had a pending load",
	})

	selfHealsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgefixup_self_heals_total",
		Help: "Tiles re-registered by self-validation",
	})

	mappedTiles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edgefixup_mapped_tiles",
		Help: "Tiles currently mapped per group",
	}, []string{"group"})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "edgefixup_tick_duration_seconds",
		Help:    "Duration of one reconciliation tick across all groups",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})
)
