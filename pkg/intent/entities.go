package intent

import (
	"slices"
	"strings"
)

type EntityKind string

const (
	EntityEquipment  EntityKind = "equipment"
	EntityDate       EntityKind = "date"
	EntityLaboratory EntityKind = "laboratory"
)

// Entities are the slots recognized in an utterance.
type Entities struct {
	Equipment  *string `json:"equipment,omitempty"`
	Date       *string `json:"date,omitempty"`
	Laboratory *string `json:"laboratory,omitempty"`
}

func (e Entities) asMap() map[string]string {
	out := map[string]string{}
	if e.Equipment != nil {
		out[string(EntityEquipment)] = *e.Equipment
	}
	if e.Date != nil {
		out[string(EntityDate)] = *e.Date
	}
	if e.Laboratory != nil {
		out[string(EntityLaboratory)] = *e.Laboratory
	}
	return out
}

// vocabEntry maps accent-folded surface forms to a canonical value.
type vocabEntry struct {
	value string
	forms []string
}

// Vocabularies are checked in order; the first entry with a matching form wins.
var (
	equipmentVocabulary = []vocabEntry{
		{"microscopio", []string{"microscopio", "microscopios"}},
		{"centrifuga", []string{"centrifuga", "centrifugadora"}},
		{"balanza", []string{"balanza", "balanza analitica"}},
		{"espectrofotometro", []string{"espectrofotometro"}},
		{"osciloscopio", []string{"osciloscopio"}},
		{"multimetro", []string{"multimetro", "tester"}},
		{"proyector", []string{"proyector", "videobeam"}},
		{"computadora", []string{"computadora", "computador", "pc", "laptop"}},
		{"autoclave", []string{"autoclave"}},
		{"incubadora", []string{"incubadora"}},
		{"pipeta", []string{"pipeta", "micropipeta"}},
		{"phmetro", []string{"phmetro", "ph metro", "medidor de ph"}},
	}
	dateVocabulary = []vocabEntry{
		{"next_week", []string{"proxima semana", "semana que viene", "siguiente semana"}},
		{"tomorrow", []string{"manana"}},
		{"today", []string{"hoy", "ahora"}},
	}
	laboratoryVocabulary = []vocabEntry{
		{"laboratorio de quimica", []string{"laboratorio de quimica", "lab de quimica", "quimica"}},
		{"laboratorio de fisica", []string{"laboratorio de fisica", "lab de fisica", "fisica"}},
		{"laboratorio de biologia", []string{"laboratorio de biologia", "lab de biologia", "biologia"}},
		{"laboratorio de electronica", []string{"laboratorio de electronica", "lab de electronica", "electronica"}},
		{"laboratorio de computo", []string{"laboratorio de computo", "sala de computo", "computo"}},
	}
)

// ExtractEntities pattern-matches the small built-in vocabularies. Only the slots the
// intent declares are filled; intents without declared slots get every slot.
func ExtractEntities(text string, i Intent) Entities {
	folded := " " + foldAccents(Preprocess(text)) + " "
	var e Entities
	if folded == "  " {
		return e
	}
	slots := definitions[i].Slots
	wants := func(k EntityKind) bool {
		return slots == nil || slices.Contains(slots, k)
	}
	if wants(EntityEquipment) {
		e.Equipment = match(folded, equipmentVocabulary)
	}
	if wants(EntityDate) {
		// "pasado mañana" is not tomorrow
		e.Date = match(strings.ReplaceAll(folded, " pasado manana ", " "), dateVocabulary)
	}
	if wants(EntityLaboratory) {
		e.Laboratory = match(folded, laboratoryVocabulary)
	}
	return e
}

func match(padded string, vocab []vocabEntry) *string {
	for _, entry := range vocab {
		for _, form := range entry.forms {
			if strings.Contains(padded, " "+form+" ") {
				v := entry.value
				return &v
			}
		}
	}
	return nil
}
