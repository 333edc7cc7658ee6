package mcp_test

import (
	"context"
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/teslamotors/fleet-mcp/mocks"
	"github.com/teslamotors/fleet-mcp/pkg/account"
	"github.com/teslamotors/fleet-mcp/pkg/cache"
	"github.com/teslamotors/fleet-mcp/pkg/mcp"
)

var _ = Describe("Session", func() {
	var (
		ctx        context.Context
		ctrl       *gomock.Controller
		mockLister *mocks.VehicleLister
		mockWaker  *mocks.VehicleWaker
		session    *mcpsdk.ClientSession
	)

	BeforeEach(func() {
		ctx = context.Background()
		ctrl = gomock.NewController(GinkgoT())
		mockLister = mocks.NewVehicleLister(ctrl)
		mockWaker = mocks.NewVehicleWaker(ctrl)
		server := mcp.New(cache.New(mockLister), mockWaker)

		serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
		serverSession, err := server.MCPServer().Connect(ctx, serverTransport, nil)
		Expect(err).NotTo(HaveOccurred())
		client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
		session, err = client.Connect(ctx, clientTransport, nil)
		Expect(err).NotTo(HaveOccurred())

		DeferCleanup(func() {
			session.Close()
			serverSession.Wait()
			ctrl.Finish()
		})
	})

	It("publishes vehicles after a refresh", func() {
		mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{}, nil)
		listed, err := session.ListResources(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(listed.Resources).To(BeEmpty())

		mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{
			{ID: "1", VIN: "VIN1", DisplayName: "Car", State: account.StateOnline},
		}, nil)
		called, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: mcp.ToolRefreshVehicles, Arguments: map[string]any{}})
		Expect(err).NotTo(HaveOccurred())
		Expect(called.IsError).To(BeFalse())

		// The cache is fresh, so no further fetches happen.
		listed, err = session.ListResources(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(listed.Resources).To(HaveLen(1))
		Expect(listed.Resources[0].URI).To(ContainSubstring("1"))
		Expect(listed.Resources[0].Name).To(Equal("Car"))

		read, err := session.ReadResource(ctx, &mcpsdk.ReadResourceParams{URI: listed.Resources[0].URI})
		Expect(err).NotTo(HaveOccurred())
		Expect(read.Contents[0].Text).To(ContainSubstring("VIN1"))
	})

	It("returns an error for unknown resources", func() {
		mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{}, nil)
		_, err := session.ReadResource(ctx, &mcpsdk.ReadResourceParams{URI: "tesla://vehicles/404"})
		Expect(err).To(HaveOccurred())
	})

	It("wakes vehicles through the tool interface", func() {
		mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{
			{ID: "1", VehicleID: 12345, VIN: "VIN1", State: account.StateAsleep},
		}, nil)
		mockWaker.EXPECT().WakeUp(gomock.Any(), "1").Return(&account.Vehicle{ID: "1", State: account.StateAsleep}, nil)

		called, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      mcp.ToolWakeUp,
			Arguments: map[string]any{"vehicle_id": "12345"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(called.IsError).To(BeFalse())
	})

	DescribeTable("accepts vehicle_id as a string or a number",
		func(vehicleID any) {
			mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{
				{ID: "1", VehicleID: 12345, VIN: "VIN1", State: account.StateAsleep},
			}, nil)
			mockWaker.EXPECT().WakeUp(gomock.Any(), "1").Return(&account.Vehicle{ID: "1", State: account.StateAsleep}, nil)

			called, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
				Name:      mcp.ToolWakeUp,
				Arguments: map[string]any{"vehicle_id": vehicleID},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(called.IsError).To(BeFalse())
		},
		Entry("string", "12345"),
		Entry("integer", 12345),
		Entry("float without fraction", float64(12345)),
		Entry("integer id", 1),
	)

	It("rejects non-integer numeric vehicle ids", func() {
		_, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      mcp.ToolWakeUp,
			Arguments: map[string]any{"vehicle_id": 12345.5},
		})
		Expect(err).To(HaveOccurred())
	})

	It("wakes a vehicle using the vehicle_id reported by debug_vehicles", func() {
		mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{
			{ID: "1", VehicleID: 12345, VIN: "VIN1", State: account.StateAsleep},
		}, nil)
		mockWaker.EXPECT().WakeUp(gomock.Any(), "1").Return(&account.Vehicle{ID: "1", State: account.StateAsleep}, nil)

		_, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: mcp.ToolRefreshVehicles, Arguments: map[string]any{}})
		Expect(err).NotTo(HaveOccurred())
		debug, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: mcp.ToolDebugVehicles, Arguments: map[string]any{}})
		Expect(err).NotTo(HaveOccurred())
		var summaries []map[string]any
		Expect(json.Unmarshal([]byte(debug.Content[0].(*mcpsdk.TextContent).Text), &summaries)).To(Succeed())
		Expect(summaries).To(HaveLen(1))

		called, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      mcp.ToolWakeUp,
			Arguments: map[string]any{"vehicle_id": summaries[0]["vehicle_id"]},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(called.IsError).To(BeFalse())
	})

	It("advertises tools and prompts", func() {
		tools, err := session.ListTools(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		var names []string
		for _, tool := range tools.Tools {
			names = append(names, tool.Name)
		}
		Expect(names).To(ConsistOf(mcp.ToolWakeUp, mcp.ToolRefreshVehicles, mcp.ToolDebugVehicles))

		prompts, err := session.ListPrompts(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(prompts.Prompts).To(HaveLen(2))

		prompt, err := session.GetPrompt(ctx, &mcpsdk.GetPromptParams{
			Name:      mcp.PromptWakeVehicle,
			Arguments: map[string]string{"vehicle": "VIN1"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(prompt.Messages).To(HaveLen(1))
	})
})
