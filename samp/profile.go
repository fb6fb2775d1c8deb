package samp

// Hub-side wire method names of the standard profile.
const (
	MethodRegister              = "samp.hub.register"
	MethodUnregister            = "samp.hub.unregister"
	MethodDeclareMetadata       = "samp.hub.declareMetadata"
	MethodGetMetadata           = "samp.hub.getMetadata"
	MethodDeclareSubscriptions  = "samp.hub.declareSubscriptions"
	MethodGetSubscriptions      = "samp.hub.getSubscriptions"
	MethodGetRegisteredClients  = "samp.hub.getRegisteredClients"
	MethodGetSubscribedClients  = "samp.hub.getSubscribedClients"
	MethodSetXmlrpcCallback     = "samp.hub.setXmlrpcCallback"
	MethodNotify                = "samp.hub.notify"
	MethodNotifyAll             = "samp.hub.notifyAll"
	MethodCall                  = "samp.hub.call"
	MethodCallAll               = "samp.hub.callAll"
	MethodCallAndWait           = "samp.hub.callAndWait"
	MethodReply                 = "samp.hub.reply"
	MethodPing                  = "samp.hub.ping"
)

// Client-side wire method names invoked by the hub on callback endpoints.
const (
	MethodReceiveNotification = "samp.client.receiveNotification"
	MethodReceiveCall         = "samp.client.receiveCall"
	MethodReceiveResponse     = "samp.client.receiveResponse"
)

// Keys of the registration result map.
const (
	KeyPrivateKey = "samp.private-key"
	KeySelfID     = "samp.self-id"
	KeyHubID      = "samp.hub-id"
)
