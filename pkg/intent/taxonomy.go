package intent

import "sort"

// Intent names what the user wants.
type Intent string

const (
	Unknown Intent = "unknown"

	Greeting          Intent = "greeting"
	Farewell          Intent = "farewell"
	Thanks            Intent = "thanks"
	Help              Intent = "help"
	TurnOffMicrophone Intent = "turn_off_microphone"
	CreateReservation Intent = "create_reservation"
	ListReservations  Intent = "list_reservations"
	CancelReservation Intent = "cancel_reservation"
	ConsultEquipment  Intent = "consult_equipment"
	ListEquipment     Intent = "list_equipment"
	RequestLoan       Intent = "request_loan"
	ListLoans         Intent = "list_loans"
	ReportFailure     Intent = "report_failure"
	MaintenanceStatus Intent = "maintenance_status"
	GoDashboard       Intent = "go_dashboard"
	GoLaboratories    Intent = "go_laboratories"
	GoReports         Intent = "go_reports"
	IdentifyEquipment Intent = "identify_equipment"
)

// definition is everything the assistant knows about one intent. Adding an intent means
// adding one entry here.
type definition struct {
	Examples []string
	Response string
	Action   Action
	// Slots lists the entity kinds worth extracting; nil means all.
	Slots []EntityKind
}

const unknownResponse = "Lo siento, no entendí tu solicitud. ¿Puedes reformularla? " +
	"Puedo ayudarte con reservas, préstamos, equipos y mantenimiento."

var definitions = map[Intent]definition{
	Greeting: {
		Examples: []string{
			"hola", "hola lucia", "buenos días", "buenas tardes", "buenas noches",
			"qué tal", "hola cómo estás", "saludos", "buen día lucia", "hey lucia hola",
		},
		Response: "¡Hola! Soy Lucía, tu asistente de laboratorio. ¿En qué puedo ayudarte?",
	},
	Farewell: {
		Examples: []string{
			"adiós", "hasta luego", "nos vemos", "chao lucia", "hasta mañana lucia",
			"me despido", "bye", "hasta pronto", "eso es todo adiós", "nos vemos luego",
		},
		Response: "¡Hasta luego! Aquí estaré cuando me necesites.",
	},
	Thanks: {
		Examples: []string{
			"gracias", "muchas gracias", "te lo agradezco", "gracias lucia", "mil gracias",
			"muy amable", "genial gracias", "perfecto gracias", "excelente gracias por todo",
		},
		Response: "¡Con gusto! ¿Necesitas algo más?",
	},
	Help: {
		Examples: []string{
			"ayuda", "necesito ayuda", "qué puedes hacer", "cómo funciona esto", "lucia ayúdame",
			"qué comandos hay", "cuáles son tus funciones", "no sé cómo usar el sistema",
			"explícame qué haces", "opciones disponibles",
		},
		Response: "Puedo reservar equipos, consultar préstamos, revisar el estado de los equipos, " +
			"reportar fallas y llevarte a cualquier sección del sistema.",
	},
	TurnOffMicrophone: {
		Examples: []string{
			"apagar", "lucia apagar", "apagar micrófono", "lucia apagar micrófono",
			"apaga el micrófono", "lucia apaga", "apagar el micro", "desactivar micrófono",
			"deja de escuchar", "silencio lucia apagar", "apagar escucha", "lucia apagar ya",
			"por favor apagar", "apagar asistente", "lucia deja de escuchar",
		},
		Response: "Entendido, apagando el micrófono.",
		Action:   Redirect{URL: "#microphone-off"},
	},
	CreateReservation: {
		Examples: []string{
			"quiero reservar", "quiero reservar un equipo", "reservar el microscopio",
			"necesito reservar la centrífuga para mañana", "hacer una reserva",
			"quiero reservar el laboratorio de química", "agendar una reserva para hoy",
			"reservar equipo para la próxima semana", "me gustaría reservar la balanza",
			"crear reserva", "apartar el osciloscopio", "nueva reserva de laboratorio",
		},
		Response: "Claro, vamos a crear una reserva. Te llevo al formulario.",
		Action:   Redirect{URL: "/reservas/nueva"},
		Slots:    []EntityKind{EntityEquipment, EntityDate, EntityLaboratory},
	},
	ListReservations: {
		Examples: []string{
			"mis reservas", "ver mis reservas", "qué reservas tengo", "listar reservas",
			"mostrar reservas", "reservas de hoy", "cuáles son mis reservas pendientes",
			"consultar reservas", "reservas de la semana", "tengo reservas para mañana",
		},
		Response: "Estas son tus reservas.",
		Action:   DBQuery{QueryID: "list_reservations"},
		Slots:    []EntityKind{EntityDate, EntityLaboratory},
	},
	CancelReservation: {
		Examples: []string{
			"cancelar reserva", "cancelar mi reserva", "anular la reserva",
			"ya no necesito la reserva", "eliminar reserva del microscopio",
			"quiero cancelar la reserva de mañana", "borrar mi reserva", "anular reservación",
		},
		Response: "De acuerdo, te llevo a tus reservas para cancelarla.",
		Action:   Redirect{URL: "/reservas"},
		Slots:    []EntityKind{EntityEquipment, EntityDate},
	},
	ConsultEquipment: {
		Examples: []string{
			"estado del microscopio", "información del equipo", "consultar equipo",
			"cómo está la centrífuga", "está disponible el osciloscopio",
			"detalles de la balanza", "dónde está el espectrofotómetro",
			"el microscopio está disponible", "ver ficha del equipo", "datos del multímetro",
		},
		Response: "Consultando la información del equipo.",
		Action:   DBQuery{QueryID: "consult_equipment"},
		Slots:    []EntityKind{EntityEquipment, EntityLaboratory},
	},
	ListEquipment: {
		Examples: []string{
			"listar equipos", "ver equipos", "qué equipos hay", "mostrar todos los equipos",
			"inventario de equipos", "equipos disponibles", "lista de equipos del laboratorio",
			"qué equipos tiene el laboratorio de física", "catálogo de equipos",
		},
		Response: "Aquí tienes la lista de equipos.",
		Action:   DBQuery{QueryID: "list_equipment"},
		Slots:    []EntityKind{EntityLaboratory},
	},
	RequestLoan: {
		Examples: []string{
			"solicitar préstamo", "quiero un préstamo", "pedir prestado el multímetro",
			"necesito que me presten la balanza", "préstamo de equipo",
			"quiero llevarme el proyector", "solicitar el préstamo del microscopio",
			"me prestan la computadora", "nuevo préstamo",
		},
		Response: "Te llevo a la solicitud de préstamo.",
		Action:   Redirect{URL: "/prestamos/nuevo"},
		Slots:    []EntityKind{EntityEquipment, EntityDate},
	},
	ListLoans: {
		Examples: []string{
			"mis préstamos", "ver préstamos", "qué préstamos tengo", "préstamos activos",
			"listar préstamos", "préstamos pendientes de devolución", "cuándo devuelvo el equipo",
			"historial de préstamos",
		},
		Response: "Estos son tus préstamos.",
		Action:   DBQuery{QueryID: "list_loans"},
		Slots:    []EntityKind{EntityDate},
	},
	ReportFailure: {
		Examples: []string{
			"reportar falla", "el equipo no funciona", "el microscopio está dañado",
			"reportar un daño", "la centrífuga hace ruido", "se rompió la balanza",
			"hay un equipo averiado", "registrar falla del osciloscopio", "el proyector no enciende",
		},
		Response: "Lamento el inconveniente. Te llevo al formulario de reporte de fallas.",
		Action:   Redirect{URL: "/mantenimiento/reportar"},
		Slots:    []EntityKind{EntityEquipment, EntityLaboratory},
	},
	MaintenanceStatus: {
		Examples: []string{
			"mantenimientos pendientes", "estado de mantenimiento", "qué equipos necesitan mantenimiento",
			"alertas de mantenimiento", "próximo mantenimiento", "equipos en riesgo de falla",
			"ver mantenimientos", "mantenimiento preventivo programado",
		},
		Response: "Consultando el estado de mantenimiento.",
		Action:   DBQuery{QueryID: "maintenance_status"},
		Slots:    []EntityKind{EntityEquipment},
	},
	GoDashboard: {
		Examples: []string{
			"ir al inicio", "ir al panel", "volver al inicio", "abrir el dashboard",
			"página principal", "llévame al inicio", "mostrar el panel principal",
		},
		Response: "Te llevo al panel principal.",
		Action:   Redirect{URL: "/dashboard"},
	},
	GoLaboratories: {
		Examples: []string{
			"ir a laboratorios", "ver laboratorios", "abrir laboratorios", "sección de laboratorios",
			"llévame a los laboratorios", "mostrar laboratorios",
		},
		Response: "Abriendo la sección de laboratorios.",
		Action:   Redirect{URL: "/laboratorios"},
	},
	GoReports: {
		Examples: []string{
			"ver reportes", "ir a reportes", "generar un reporte", "abrir informes",
			"estadísticas del laboratorio", "mostrar reportes", "descargar informe",
		},
		Response: "Abriendo la sección de reportes.",
		Action:   Redirect{URL: "/reportes"},
	},
	IdentifyEquipment: {
		Examples: []string{
			"identificar equipo", "qué equipo es este", "reconocer equipo por foto",
			"tomar foto del equipo", "escanear equipo", "identificar con la cámara",
			"qué es esto", "reconocimiento de equipos",
		},
		Response: "Abriendo la cámara para identificar el equipo.",
		Action:   Redirect{URL: "/equipos/identificar"},
	},
}

// Intents lists every known intent except Unknown, sorted by name.
func Intents() []Intent {
	out := make([]Intent, 0, len(definitions))
	for i := range definitions {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Valid reports whether i is Unknown or one of the declared intents.
func (i Intent) Valid() bool {
	if i == Unknown {
		return true
	}
	_, ok := definitions[i]
	return ok
}

// Response is the canned reply for the intent.
func (i Intent) Response() string {
	if d, ok := definitions[i]; ok {
		return d.Response
	}
	return unknownResponse
}

// trainingExamples returns a copy of the built-in examples.
func trainingExamples() map[Intent][]string {
	out := make(map[Intent][]string, len(definitions))
	for i, d := range definitions {
		out[i] = append([]string(nil), d.Examples...)
	}
	return out
}
