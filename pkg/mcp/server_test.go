package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/teslamotors/fleet-mcp/mocks"
	"github.com/teslamotors/fleet-mcp/pkg/account"
	"github.com/teslamotors/fleet-mcp/pkg/cache"
	"github.com/teslamotors/fleet-mcp/pkg/mcp"
)

var (
	car = account.Vehicle{
		ID:          "1",
		VehicleID:   12345,
		VIN:         "VIN1",
		DisplayName: "Car",
		State:       account.StateOnline,
	}
	truck = account.Vehicle{
		ID:        "2",
		VehicleID: 67890,
		VIN:       "VIN2",
		State:     account.StateAsleep,
	}
)

func text(result *mcpsdk.CallToolResult) string {
	Expect(result.Content).To(HaveLen(1))
	content, ok := result.Content[0].(*mcpsdk.TextContent)
	Expect(ok).To(BeTrue())
	return content.Text
}

var _ = Describe("Server", func() {
	var (
		ctx        context.Context
		ctrl       *gomock.Controller
		mockLister *mocks.VehicleLister
		mockWaker  *mocks.VehicleWaker
		vehicles   *cache.VehicleCache
		server     *mcp.Server
	)

	BeforeEach(func() {
		ctx = context.Background()
		ctrl = gomock.NewController(GinkgoT())
		mockLister = mocks.NewVehicleLister(ctrl)
		mockWaker = mocks.NewVehicleWaker(ctrl)
		vehicles = cache.New(mockLister)
		server = mcp.New(vehicles, mockWaker)
		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	Context("resources", func() {
		It("lists one resource per vehicle", func() {
			mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{car, truck}, nil)
			result, err := server.ListResources(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Resources).To(HaveLen(2))
			Expect(result.Resources[0].URI).To(Equal("tesla://vehicles/1"))
			Expect(result.Resources[0].Name).To(Equal("Car"))
			Expect(result.Resources[0].Description).To(Equal("VIN: VIN1"))
			Expect(result.Resources[0].MIMEType).To(Equal("application/json"))
			Expect(result.Resources[1].Name).To(Equal("VIN2"))
		})

		It("lists nothing when the vehicle list is unavailable", func() {
			mockLister.EXPECT().ListVehicles(gomock.Any()).Return(nil, errors.New("network down"))
			result, err := server.ListResources(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Resources).To(BeEmpty())
		})

		It("reads a cached vehicle", func() {
			mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{car}, nil)
			result, err := server.ReadResource(ctx, &mcpsdk.ReadResourceRequest{
				Params: &mcpsdk.ReadResourceParams{URI: "tesla://vehicles/1"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Contents).To(HaveLen(1))
			Expect(result.Contents[0].MIMEType).To(Equal("application/json"))

			var decoded map[string]interface{}
			Expect(json.Unmarshal([]byte(result.Contents[0].Text), &decoded)).To(Succeed())
			Expect(decoded).To(HaveKeyWithValue("vin", "VIN1"))
		})

		It("only matches vehicle ids when reading", func() {
			mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{car}, nil)
			for _, uri := range []string{"tesla://vehicles/12345", "tesla://vehicles/VIN1", "tesla://vehicles/3", "tesla://other/1"} {
				_, err := server.ReadResource(ctx, &mcpsdk.ReadResourceRequest{
					Params: &mcpsdk.ReadResourceParams{URI: uri},
				})
				Expect(err).To(HaveOccurred(), uri)
			}
		})
	})

	Context("wake_up", func() {
		BeforeEach(func() {
			mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{car, truck}, nil)
		})

		DescribeTable("resolves vehicles by any identifier",
			func(tag string) {
				mockWaker.EXPECT().WakeUp(gomock.Any(), "1").Return(&account.Vehicle{ID: "1", State: account.StateAsleep}, nil)
				result, _, err := server.WakeUp(ctx, nil, mcp.WakeUpInput{VehicleID: account.VehicleTag(tag)})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.IsError).To(BeFalse())
				Expect(text(result)).To(ContainSubstring("asleep"))
			},
			Entry("id", "1"),
			Entry("vehicle_id", "12345"),
			Entry("VIN", "VIN1"),
		)

		It("reports unknown vehicles without calling Fleet API", func() {
			result, _, err := server.WakeUp(ctx, nil, mcp.WakeUpInput{VehicleID: "VIN3"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())
			Expect(text(result)).To(ContainSubstring("not found"))
		})

		It("reports Fleet API failures as tool errors", func() {
			mockWaker.EXPECT().WakeUp(gomock.Any(), "2").Return(nil, &account.APIError{Status: http.StatusRequestTimeout})
			result, _, err := server.WakeUp(ctx, nil, mcp.WakeUpInput{VehicleID: "VIN2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())
			Expect(text(result)).To(ContainSubstring("unavailable"))
		})

		It("reports registration failures as tool errors", func() {
			mockWaker.EXPECT().WakeUp(gomock.Any(), "1").Return(nil, &account.RegistrationError{Reason: "partner account not registered"})
			result, _, err := server.WakeUp(ctx, nil, mcp.WakeUpInput{VehicleID: "1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())
			Expect(text(result)).To(ContainSubstring("not registered"))
		})
	})

	Context("refresh_vehicles", func() {
		It("always fetches", func() {
			mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{car}, nil).Times(2)
			for i := 0; i < 2; i++ {
				result, _, err := server.RefreshVehicles(ctx, nil, struct{}{})
				Expect(err).NotTo(HaveOccurred())
				Expect(text(result)).To(ContainSubstring("Found 1 vehicles"))
			}
		})

		It("notes when cached data is served", func() {
			mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{car}, nil)
			mockLister.EXPECT().ListVehicles(gomock.Any()).Return(nil, errors.New("network down"))
			server.Prime(ctx)

			result, _, err := server.RefreshVehicles(ctx, nil, struct{}{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeFalse())
			Expect(text(result)).To(ContainSubstring("Refresh failed"))
			Expect(text(result)).To(ContainSubstring("Car"))
		})
	})

	Context("debug_vehicles", func() {
		It("reports the snapshot without fetching", func() {
			result, _, err := server.DebugVehicles(ctx, nil, struct{}{})
			Expect(err).NotTo(HaveOccurred())
			Expect(text(result)).To(Equal("[]"))

			mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{car}, nil)
			server.Prime(ctx)
			result, _, err = server.DebugVehicles(ctx, nil, struct{}{})
			Expect(err).NotTo(HaveOccurred())

			var summaries []map[string]interface{}
			Expect(json.Unmarshal([]byte(text(result)), &summaries)).To(Succeed())
			Expect(summaries).To(HaveLen(1))
			Expect(summaries[0]).To(HaveKeyWithValue("id", "1"))
			Expect(summaries[0]).To(HaveKeyWithValue("vehicle_id", float64(12345)))
			Expect(summaries[0]).To(HaveKeyWithValue("vin", "VIN1"))
			Expect(summaries[0]).To(HaveKeyWithValue("state", "online"))
		})
	})

	Context("prompts", func() {
		It("summarizes cached vehicles", func() {
			mockLister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{car}, nil)
			result, err := server.VehicleSummary(ctx, &mcpsdk.GetPromptRequest{Params: &mcpsdk.GetPromptParams{Name: mcp.PromptVehicleSummary}})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Messages).To(HaveLen(1))
			content, ok := result.Messages[0].Content.(*mcpsdk.TextContent)
			Expect(ok).To(BeTrue())
			Expect(content.Text).To(ContainSubstring("tesla://vehicles/1"))
		})

		It("requires a vehicle to wake", func() {
			_, err := server.WakeVehicle(ctx, &mcpsdk.GetPromptRequest{Params: &mcpsdk.GetPromptParams{Name: mcp.PromptWakeVehicle}})
			Expect(err).To(HaveOccurred())

			result, err := server.WakeVehicle(ctx, &mcpsdk.GetPromptRequest{Params: &mcpsdk.GetPromptParams{
				Name:      mcp.PromptWakeVehicle,
				Arguments: map[string]string{"vehicle": "Car"},
			}})
			Expect(err).NotTo(HaveOccurred())
			content, ok := result.Messages[0].Content.(*mcpsdk.TextContent)
			Expect(ok).To(BeTrue())
			Expect(content.Text).To(ContainSubstring(mcp.ToolWakeUp))
		})
	})

	It("keeps serving when priming fails", func() {
		mockLister.EXPECT().ListVehicles(gomock.Any()).Return(nil, errors.New("network down"))
		server.Prime(ctx)
		Expect(vehicles.Vehicles()).To(BeEmpty())
		Expect(vehicles.LastError()).To(HaveOccurred())
	})
})
