package ws

import "go.uber.org/fx"

var Module = fx.Module("ws-server",
	fx.Provide(fx.Annotate(NewServer, fx.ResultTags(`name:"watchWSServer"`))),
	fx.Invoke(fx.Annotate(RegisterLifecycle, fx.ParamTags("", `name:"watchWSServer"`, ""))),
)
