// Package interactive provides the interactive command-line interface
// for the UPnP controller.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/upnpkit/upnpkit-go/pkg/controlpoint"
	"github.com/upnpkit/upnpkit-go/pkg/description"
	"github.com/upnpkit/upnpkit-go/pkg/proxy"
	"github.com/upnpkit/upnpkit-go/pkg/soap"
)

// fetchTimeout bounds the retrieval of a device description.
const fetchTimeout = 10 * time.Second

// Controller handles interactive mode for upnp-controller.
type Controller struct {
	cp     *controlpoint.ControlPoint
	client *http.Client
	out    io.Writer
	rl     *readline.Instance

	// autoSubscribe subscribes evented services of new connections.
	autoSubscribe bool
}

// New creates a new interactive controller reading commands from the
// terminal.
func New(cp *controlpoint.ControlPoint, client *http.Client, autoSubscribe bool) (*Controller, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "upnp> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := NewWithOutput(cp, client, rl.Stdout(), autoSubscribe)
	c.rl = rl
	return c, nil
}

// NewWithOutput creates a controller without a terminal. Commands are run
// with Execute and print to out.
func NewWithOutput(cp *controlpoint.ControlPoint, client *http.Client, out io.Writer, autoSubscribe bool) *Controller {
	if client == nil {
		client = http.DefaultClient
	}
	return &Controller{cp: cp, client: client, out: out, autoSubscribe: autoSubscribe}
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Controller) Stdout() io.Writer {
	return c.out
}

// Run starts the interactive command loop.
func (c *Controller) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.Execute(ctx, line) {
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false when the user asked to
// quit.
func (c *Controller) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "connect", "c":
		c.cmdConnect(ctx, args)

	case "list", "ls", "devices":
		c.cmdList()

	case "show", "inspect", "i":
		c.cmdShow(args)

	case "invoke", "call":
		c.cmdInvoke(ctx, args)

	case "subscribe", "sub":
		c.cmdSubscribe(ctx, args)

	case "unsubscribe", "unsub":
		c.cmdUnsubscribe(ctx, args)

	case "vars", "v":
		c.cmdVars(args)

	case "rebooted":
		c.cmdRebooted(ctx, args)

	case "gone":
		c.cmdGone(args)

	case "disconnect":
		c.cmdDisconnect(args)

	case "status":
		c.cmdStatus()

	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Controller) printHelp() {
	fmt.Fprintln(c.out, `
UPnP Controller Commands:
  Connection:
    connect <description-url>             - Fetch a device description and connect
    devices                               - List connected devices
    disconnect <device>                   - Disconnect a device
    rebooted <device>                     - Renew subscriptions after a device reboot
    gone <device>                         - Drop a device that left the network

  Inspection:
    show <device>                         - Show devices, services and actions
    vars <device> <service>               - Show evented state variables

  Control:
    invoke <device> <service> <action> [args...] - Call an action
    subscribe <device> <service|all>      - Subscribe to events
    unsubscribe <device> <service>        - Cancel a subscription

  General:
    status                                - Show controller status
    help                                  - Show this help
    quit                                  - Exit controller

  A device is a UUID, a UUID prefix or the index shown by 'devices'.
  A service is a service ID, a service type URN or its short name (SwitchPower).`)
}

// Connect fetches the description at location and connects to its root
// device.
func (c *Controller) Connect(ctx context.Context, location string) (*controlpoint.DeviceConnection, error) {
	localAddr, err := LocalAddrFor(location)
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	rd, err := description.Fetch(fetchCtx, c.client, location, localAddr)
	if err != nil {
		return nil, err
	}

	conn, err := c.cp.DeviceAvailable(rd, rd.RootDeviceUUID)
	if err != nil {
		return nil, err
	}
	conn.Device().Walk(func(d *proxy.Device) {
		for _, svc := range d.Services() {
			c.watch(svc)
		}
	})
	conn.OnDisconnected(func(dc *controlpoint.DeviceConnection) {
		fmt.Fprintf(c.out, "[EVENT] Device disconnected: %s\n", dc.DeviceUUID())
	})
	conn.OnRebooted(func(dc *controlpoint.DeviceConnection) {
		fmt.Fprintf(c.out, "[EVENT] Subscriptions renewed after reboot: %s\n", dc.DeviceUUID())
	})

	if c.autoSubscribe {
		c.subscribeAll(ctx, conn)
	}
	return conn, nil
}

// watch prints the events of a service.
func (c *Controller) watch(svc *proxy.Service) {
	svc.OnStateVariableChanged(func(sv *proxy.StateVariable, value any) {
		text, err := sv.Type.Format(value)
		if err != nil {
			text = fmt.Sprint(value)
		}
		fmt.Fprintf(c.out, "[NOTIFY] %s %s %s = %s\n",
			shortUUID(svc.Device().UUID), shortService(svc), sv.Name, text)
	})
	svc.OnEventSubscriptionFailed(func(s *proxy.Service, err error) {
		fmt.Fprintf(c.out, "[EVENT] Subscription of %s lost: %v\n", s.ServiceID, err)
	})
}

func (c *Controller) subscribeAll(ctx context.Context, conn *controlpoint.DeviceConnection) {
	conn.Device().Walk(func(d *proxy.Device) {
		for _, svc := range d.Services() {
			if !svc.HasEventedStateVariables() || svc.IsSubscribed() {
				continue
			}
			if err := svc.SubscribeEvents(ctx); err != nil {
				fmt.Fprintf(c.out, "Subscribe %s failed: %v\n", svc.ServiceID, err)
				continue
			}
			fmt.Fprintf(c.out, "Subscribed %s\n", svc.ServiceID)
		}
	})
}

func (c *Controller) cmdConnect(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: connect <description-url>")
		return
	}
	conn, err := c.Connect(ctx, args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Connect failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Connected: %s (%s)\n", conn.Device().FriendlyName, conn.DeviceUUID())
}

func (c *Controller) cmdList() {
	conns := c.cp.Connections()
	if len(conns) == 0 {
		fmt.Fprintln(c.out, "No devices connected")
		return
	}

	fmt.Fprintf(c.out, "\nConnected Devices (%d):\n", len(conns))
	fmt.Fprintln(c.out, "-------------------------------------------")
	for idx, conn := range conns {
		d := conn.Device()
		fmt.Fprintf(c.out, "  %d. %s\n", idx+1, d.FriendlyName)
		fmt.Fprintf(c.out, "      UUID: %s\n", conn.DeviceUUID())
		fmt.Fprintf(c.out, "      Type: %s:%d\n", d.DeviceType, d.DeviceTypeVersion)
		fmt.Fprintf(c.out, "      Location: %s\n", conn.RootDescriptor().PreferredLink.DescriptionLocation)
		fmt.Fprintf(c.out, "      Subscriptions: %d, pending calls: %d\n", len(conn.Subscriptions()), conn.PendingCalls())
	}
}

func (c *Controller) cmdShow(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: show <device>")
		return
	}
	conn, err := c.resolveConnection(args[0])
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}
	c.printDevice(conn.Device(), "")
}

func (c *Controller) printDevice(d *proxy.Device, indent string) {
	fmt.Fprintf(c.out, "%s%s [%s]\n", indent, d.FriendlyName, d.UUID)
	if d.Manufacturer != "" || d.ModelName != "" {
		fmt.Fprintf(c.out, "%s  %s %s %s\n", indent, d.Manufacturer, d.ModelName, d.ModelNumber)
	}
	for _, svc := range d.Services() {
		sub := ""
		if svc.IsSubscribed() {
			sub = " (subscribed)"
		}
		fmt.Fprintf(c.out, "%s  Service %s%s\n", indent, svc.ServiceID, sub)
		for _, a := range svc.Actions() {
			fmt.Fprintf(c.out, "%s    %s(%s) -> (%s)\n", indent, a.Name, argList(a.InArguments), argList(a.OutArguments))
		}
	}
	for _, e := range d.Devices() {
		c.printDevice(e, indent+"  ")
	}
}

func argList(args []*proxy.Argument) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Name + " " + a.RelatedStateVariable.Type.String()
	}
	return strings.Join(parts, ", ")
}

func (c *Controller) cmdInvoke(ctx context.Context, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(c.out, "Usage: invoke <device> <service> <action> [args...]")
		return
	}
	svc, err := c.resolveService(args[0], args[1])
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}
	action, ok := svc.Action(args[2])
	if !ok {
		fmt.Fprintf(c.out, "Service %s has no action %s\n", svc.ServiceID, args[2])
		return
	}

	in, err := ParseArguments(action, args[3:])
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}

	start := time.Now()
	out, err := action.Invoke(ctx, in...)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		var fault *soap.Fault
		if errors.As(err, &fault) {
			fmt.Fprintf(c.out, "Fault %d: %s (%s)\n", fault.Code, fault.Description, elapsed)
			return
		}
		fmt.Fprintf(c.out, "Invoke failed: %v (%s)\n", err, elapsed)
		return
	}

	fmt.Fprintf(c.out, "%s completed (%s)\n", action.Name, elapsed)
	for i, arg := range action.OutArguments {
		text, err := arg.RelatedStateVariable.Type.Format(out[i])
		if err != nil {
			text = fmt.Sprint(out[i])
		}
		fmt.Fprintf(c.out, "  %s = %s\n", arg.Name, text)
	}
}

// ParseArguments converts command-line values into the input arguments of
// action.
func ParseArguments(action *proxy.Action, values []string) ([]any, error) {
	if len(values) != len(action.InArguments) {
		return nil, fmt.Errorf("%s expects %d argument(s) (%s), got %d",
			action.Name, len(action.InArguments), argList(action.InArguments), len(values))
	}
	in := make([]any, len(values))
	for i, arg := range action.InArguments {
		v, err := arg.RelatedStateVariable.Type.Parse(values[i])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", arg.Name, err)
		}
		in[i] = v
	}
	return in, nil
}

func (c *Controller) cmdSubscribe(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: subscribe <device> <service|all>")
		return
	}
	if strings.EqualFold(args[1], "all") {
		conn, err := c.resolveConnection(args[0])
		if err != nil {
			fmt.Fprintln(c.out, err)
			return
		}
		c.subscribeAll(ctx, conn)
		return
	}

	svc, err := c.resolveService(args[0], args[1])
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}
	if err := svc.SubscribeEvents(ctx); err != nil {
		fmt.Fprintf(c.out, "Subscribe failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Subscribed %s\n", svc.ServiceID)
}

func (c *Controller) cmdUnsubscribe(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: unsubscribe <device> <service>")
		return
	}
	svc, err := c.resolveService(args[0], args[1])
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}
	if err := svc.UnsubscribeEvents(ctx); err != nil {
		fmt.Fprintf(c.out, "Unsubscribe failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Unsubscribed %s\n", svc.ServiceID)
}

func (c *Controller) cmdVars(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: vars <device> <service>")
		return
	}
	svc, err := c.resolveService(args[0], args[1])
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}
	for _, sv := range svc.StateVariables() {
		if !sv.SendEvents {
			continue
		}
		v, ok := sv.Value()
		text := "<no event yet>"
		if ok {
			if s, err := sv.Type.Format(v); err == nil {
				text = s
			} else {
				text = fmt.Sprint(v)
			}
		}
		fmt.Fprintf(c.out, "  %s (%s) = %s\n", sv.Name, sv.Type, text)
	}
}

func (c *Controller) cmdRebooted(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: rebooted <device>")
		return
	}
	conn, err := c.resolveConnection(args[0])
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}
	if err := c.cp.DeviceRebooted(ctx, conn.DeviceUUID()); err != nil {
		fmt.Fprintf(c.out, "Resubscribe failed: %v\n", err)
	}
}

func (c *Controller) cmdGone(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: gone <device>")
		return
	}
	conn, err := c.resolveConnection(args[0])
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}
	c.cp.DeviceUnavailable(conn.RootDescriptor().RootDeviceUUID)
}

func (c *Controller) cmdDisconnect(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: disconnect <device>")
		return
	}
	conn, err := c.resolveConnection(args[0])
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}
	conn.Disconnect()
}

func (c *Controller) cmdStatus() {
	state := c.cp.State()
	fmt.Fprintln(c.out, "\nController Status:")
	fmt.Fprintln(c.out, "-------------------------------------------")
	fmt.Fprintf(c.out, "  Callback port (IPv4): %d\n", state.HTTPPortV4())
	if p := state.HTTPPortV6(); p != 0 {
		fmt.Fprintf(c.out, "  Callback port (IPv6): %d\n", p)
	}
	for _, ep := range state.Endpoints() {
		fmt.Fprintf(c.out, "  Endpoint: %s\n", ep)
	}
	conns := c.cp.Connections()
	subs := 0
	for _, conn := range conns {
		subs += len(conn.Subscriptions())
	}
	fmt.Fprintf(c.out, "  Devices: %d\n", len(conns))
	fmt.Fprintf(c.out, "  Subscriptions: %d\n", subs)
}

// resolveConnection finds a connection by index, UUID or UUID prefix.
func (c *Controller) resolveConnection(ref string) (*controlpoint.DeviceConnection, error) {
	conns := c.cp.Connections()
	if idx, err := strconv.Atoi(ref); err == nil {
		if idx < 1 || idx > len(conns) {
			return nil, fmt.Errorf("no device with index %d", idx)
		}
		return conns[idx-1], nil
	}

	ref = strings.TrimPrefix(ref, "uuid:")
	var match *controlpoint.DeviceConnection
	for _, conn := range conns {
		if conn.DeviceUUID() == ref {
			return conn, nil
		}
		if strings.HasPrefix(conn.DeviceUUID(), ref) {
			if match != nil {
				return nil, fmt.Errorf("device %q is ambiguous", ref)
			}
			match = conn
		}
	}
	if match == nil {
		return nil, fmt.Errorf("device not found: %s", ref)
	}
	return match, nil
}

// resolveService finds a service of a connected device or its embedded
// devices.
func (c *Controller) resolveService(deviceRef, serviceRef string) (*proxy.Service, error) {
	conn, err := c.resolveConnection(deviceRef)
	if err != nil {
		return nil, err
	}
	var found []*proxy.Service
	conn.Device().Walk(func(d *proxy.Device) {
		for _, svc := range d.Services() {
			if serviceMatches(svc, serviceRef) {
				found = append(found, svc)
			}
		}
	})
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("service not found: %s", serviceRef)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("service %q is ambiguous, use the service ID", serviceRef)
	}
}

func serviceMatches(svc *proxy.Service, ref string) bool {
	return svc.ServiceID == ref ||
		svc.ServiceTypeVersionURN == ref ||
		strings.EqualFold(shortService(svc), ref)
}

// shortService returns the service type name, such as SwitchPower.
func shortService(svc *proxy.Service) string {
	name := svc.ServiceType
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func shortUUID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// LocalAddrFor returns the local address used to reach the host of a
// description URL.
func LocalAddrFor(location string) (netip.Addr, error) {
	u, err := url.Parse(location)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid description URL: %w", err)
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	conn, err := net.Dial("udp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("no route to %s: %w", u.Host, err)
	}
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr).AddrPort().Addr()
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	if z := u.Hostname(); addr.Is6() && addr.IsLinkLocalUnicast() && strings.Contains(z, "%") {
		addr = addr.WithZone(z[strings.Index(z, "%")+1:])
	}
	return addr, nil
}
