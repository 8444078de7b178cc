package http

import "go.uber.org/fx"

// *http.Server is stdlib-typed, so both this module and infra/server/ws
// provide one: fx distinguishes them by name, matching the teacher's
// pattern for disambiguating multiple instances of the same concrete type
// in one fx graph.
var Module = fx.Module("http-server",
	fx.Provide(fx.Annotate(NewServer, fx.ResultTags(`name:"clientHTTPServer"`))),
	fx.Invoke(fx.Annotate(RegisterLifecycle, fx.ParamTags("", `name:"clientHTTPServer"`, ""))),
)
