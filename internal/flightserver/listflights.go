package flightserver

import (
	"encoding/json"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"

	"github.com/sqlgateway/flightgw/internal/templatemeta"
)

// listFlightsDescriptor is the descriptor payload carried per template,
// enriched with its parameter metadata (SPEC_FULL.md §6.4's additive
// capability listing over the base spec's bare filename enumeration).
type listFlightsDescriptor struct {
	Template string               `json:"template"`
	Metadata *templatemeta.Metadata `json:"metadata"`
}

// ListFlights enumerates the configured template directories for *.yaml
// files, one FlightInfo per unique filename with an empty schema and an
// endpoint targeting this server (spec.md §4.6/§6).
func (s *Server) ListFlights(_ *flight.Criteria, fs flight.FlightService_ListFlightsServer) error {
	metas, err := s.Loader.List()
	if err != nil {
		return err
	}

	emptySchema := flight.SerializeSchema(arrow.NewSchema(nil, nil), s.Alloc)

	for _, meta := range metas {
		cmd, err := json.Marshal(listFlightsDescriptor{Template: meta.Name, Metadata: meta})
		if err != nil {
			return err
		}
		info := &flight.FlightInfo{
			Schema: emptySchema,
			FlightDescriptor: &flight.FlightDescriptor{
				Type: flight.DescriptorCMD,
				Cmd:  cmd,
			},
			Endpoint: []*flight.FlightEndpoint{{
				Ticket: &flight.Ticket{Ticket: cmd},
			}},
		}
		if err := fs.Send(info); err != nil {
			return err
		}
	}
	return nil
}
