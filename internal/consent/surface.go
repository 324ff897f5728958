package consent

import (
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

// Static answers every request with the same decision.
func Static(decision protocol.Decision) Surface {
	return SurfaceFunc(func(req Request, r Responder) {
		go func() { _ = r.Respond(req.ID, decision) }()
	})
}

type multi []Surface

func (m multi) Publish(req Request, r Responder) {
	for _, s := range m {
		s.Publish(req, r)
	}
}

// Multi shows each request on every surface; the first answer wins.
func Multi(surfaces ...Surface) Surface {
	m := make(multi, 0, len(surfaces))
	for _, s := range surfaces {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}
