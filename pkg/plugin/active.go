package plugin

import "indexao/pkg/capability"

// ActiveOCR returns the active OCR adapter.
func (m *Manager) ActiveOCR() (capability.OCR, bool) {
	return activeAs[capability.OCR](m, capability.KindOCR)
}

// ActiveTranslator returns the active translation adapter.
func (m *Manager) ActiveTranslator() (capability.Translator, bool) {
	return activeAs[capability.Translator](m, capability.KindTranslator)
}

// ActiveSearch returns the active search adapter.
func (m *Manager) ActiveSearch() (capability.Search, bool) {
	return activeAs[capability.Search](m, capability.KindSearch)
}

func activeAs[T any](m *Manager, kind capability.Kind) (T, bool) {
	var zero T
	inst, ok := m.Active(kind)
	if !ok {
		return zero, false
	}
	typed, ok := inst.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
