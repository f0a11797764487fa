package domain

type NegotiationState string

const (
	NegotiationIdle                  NegotiationState = "idle"
	NegotiationOffering              NegotiationState = "offering"
	NegotiationAnswering             NegotiationState = "answering"
	NegotiationHaveRemoteDescription NegotiationState = "have-remote-description"
	NegotiationConnected             NegotiationState = "connected"
	NegotiationDisconnected          NegotiationState = "disconnected"
	NegotiationFailed                NegotiationState = "failed"
	NegotiationClosed                NegotiationState = "closed"
)

// SignalingState, ConnectionState and ICEState use the W3C string values.
type SignalingState string

const (
	SignalingStable             SignalingState = "stable"
	SignalingHaveLocalOffer     SignalingState = "have-local-offer"
	SignalingHaveRemoteOffer    SignalingState = "have-remote-offer"
	SignalingHaveLocalPranswer  SignalingState = "have-local-pranswer"
	SignalingHaveRemotePranswer SignalingState = "have-remote-pranswer"
	SignalingClosed             SignalingState = "closed"
)

type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

type ICEState string

const (
	ICENew          ICEState = "new"
	ICEChecking     ICEState = "checking"
	ICEConnected    ICEState = "connected"
	ICECompleted    ICEState = "completed"
	ICEDisconnected ICEState = "disconnected"
	ICEFailed       ICEState = "failed"
	ICEClosed       ICEState = "closed"
)

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// TransportConfig lists discovery servers first and the authenticated relay last.
type TransportConfig struct {
	ICEServers []ICEServer
}

func NewTransportConfig(stunURLs []string, turnURL, username, credential string) TransportConfig {
	var cfg TransportConfig
	if len(stunURLs) > 0 {
		cfg.ICEServers = append(cfg.ICEServers, ICEServer{URLs: stunURLs})
	}
	if turnURL != "" {
		cfg.ICEServers = append(cfg.ICEServers, ICEServer{
			URLs:       []string{turnURL},
			Username:   username,
			Credential: credential,
		})
	}
	return cfg
}
