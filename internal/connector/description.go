package connector

import (
	"context"

	"github.com/sirosfoundation/go-ids/pkg/daps"
	"github.com/sirosfoundation/go-ids/pkg/dispatch"
	"github.com/sirosfoundation/go-ids/pkg/infomodel"
)

// ModelSource provides the current configuration model.
type ModelSource interface {
	Model() *infomodel.ConfigurationModel
}

// DescriptionHandler answers DescriptionRequestMessages with the connector
// self-description.
func DescriptionHandler(models ModelSource, tokens daps.TokenProvider) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, header *infomodel.Message, _ *dispatch.Payload) (dispatch.Response, error) {
		model := models.Model()
		desc, err := infomodel.SelfDescription(model.ConnectorDescription)
		if err != nil {
			return nil, err
		}
		dat, err := daps.DAT(ctx, tokens)
		if err != nil {
			return nil, err
		}
		resp := infomodel.NewMessage(infomodel.TypeDescriptionResponseMessage,
			infomodel.WithIssuer(model.ConnectorID()),
			infomodel.WithModelVersion(model.ModelVersion()),
			infomodel.WithSecurityToken(dat),
			infomodel.WithCorrelation(header.ID),
			infomodel.WithRecipient(string(header.IssuerConnector)),
		)
		return dispatch.NewBodyResponse(resp, desc), nil
	})
}
