package health

import "github.com/hyperjump/nyaya/internal/models"

// Snapshot maps each service to a copy of its health.
type Snapshot map[Service]DependencyHealth

// Available reports whether s may be called. Untracked services are unavailable.
func (s Snapshot) Available(svc Service) bool {
	dh, ok := s[svc]
	return ok && dh.Available()
}

// Down returns the services that cannot currently be called.
func (s Snapshot) Down() []Service {
	var out []Service
	for _, svc := range Services {
		if !s.Available(svc) {
			out = append(out, svc)
		}
	}
	return out
}

// SelectTier maps a snapshot to the highest tier whose dependencies are available.
//
//	Full:    speech, translation, retrieval and generation
//	Reduced: translation, retrieval and generation (no voice)
//	Core:    retrieval and generation (no translation)
//	Minimal: anything less; cache-only
func SelectTier(s Snapshot) models.Tier {
	if !s.Available(ServiceRetrieval) || !s.Available(ServiceGeneration) {
		return models.TierMinimal
	}
	if !s.Available(ServiceTranslation) {
		return models.TierCore
	}
	if !s.Available(ServiceSTT) || !s.Available(ServiceTTS) {
		return models.TierReduced
	}
	return models.TierFull
}
