package api

import "routerctl/api/router_api"

type Api struct {
	RouterApi router_api.RouterApi
}

func New(engine router_api.Controller, view router_api.View, prober router_api.Prober) Api {
	return Api{
		RouterApi: router_api.RouterApi{Engine: engine, Panel: view, Prober: prober},
	}
}
