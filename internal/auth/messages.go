package auth

import "errors"

// messages holds the Italian user-facing text for each error class.
var messages = []struct {
	err error
	msg string
}{
	{ErrInvalidCredentials, "Password errata o email non registrata. Riprova."},
	{ErrEmailUnconfirmed, "Email non confermata. Controlla la tua casella di posta e clicca sul link di conferma."},
	{ErrRateLimited, "Troppi tentativi. Attendi qualche minuto prima di riprovare."},
	{ErrBackendUnavailable, "Servizio momentaneamente non disponibile. Controlla la connessione e riprova."},
	{ErrTokenRefreshFailed, "La tua sessione è scaduta. Effettua nuovamente l'accesso."},
	{ErrProfileFetchFailed, "Impossibile aggiornare il profilo."},
	{ErrOAuthFailed, "Accesso con Google non riuscito. Riprova."},
	{ErrUserAlreadyRegistered, "Questa email è già registrata. Prova ad accedere."},
	{ErrWeakPassword, "La password deve contenere almeno 6 caratteri."},
	{ErrInvalidRecoveryToken, "Il link di recupero è scaduto o non valido. Richiedine uno nuovo."},
	{ErrNotAuthenticated, "Devi effettuare l'accesso per continuare."},
}

const genericMessage = "Si è verificato un errore imprevisto. Riprova."

// Message resolves the localized text for err. Unknown errors get a generic message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return genericMessage
}
