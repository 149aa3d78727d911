package lookout

import "flotilla/pkg/models"

// SignalResponse is the flat risk-signal payload lookout returns for a
// client. A client with no active warnings decodes to the zero value.
type SignalResponse = models.RiskSignal
