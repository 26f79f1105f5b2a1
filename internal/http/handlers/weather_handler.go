package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aixiaozi/go-kids-chat/internal/weather"
)

const maxBatchCities = 20

// WeatherBatchRequest lists the cities to resolve.
type WeatherBatchRequest struct {
	Cities []string `json:"cities" example:"北京,上海"`
}

// GetWeather godoc
// @ID          getWeather
// @Summary     Weather for one city
// @Description The city comes from the path, then the `city` query, then the configured default.
// @Description Unknown cities and upstream failures fall back to a static or default reading.
// @Tags        Weather
// @Produce     json
// @Param       city    path   string  false  "City"
// @Param       city    query  string  false  "City"
// @Param       format  query  string  false  "Rendering"  Enums(card, simple, detailed)  default(card)
// @Success     200  {object}  handlers.SuccessResponse{data=domain.WeatherCard}
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /weather/{city} [get]
func (h *Handlers) GetWeather(c *gin.Context) {
	city := strings.TrimSpace(c.Param("city"))
	if city == "" {
		city = strings.TrimSpace(c.Query("city"))
	}
	if city == "" {
		city = h.Weather.DefaultCity()
	}
	ctx := c.Request.Context()
	w := h.Weather.Get(ctx, city)
	if err := ctx.Err(); err != nil {
		failErr(c, http.StatusInternalServerError, ErrCodeWeatherFailed, "获取天气信息失败，请稍后重试", err)
		return
	}
	ok(c, http.StatusOK, weather.Format(w, c.DefaultQuery("format", weather.FormatCard), h.now()))
}

// WeatherBatch godoc
// @ID          weatherBatch
// @Summary     Weather for several cities
// @Description Entries keep the request order and succeed or fail independently.
// @Tags        Weather
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.WeatherBatchRequest  true  "Cities"
// @Success     200  {object}  handlers.SuccessResponse{data=[]weather.BatchEntry}
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /weather/batch [post]
func (h *Handlers) WeatherBatch(c *gin.Context) {
	var req WeatherBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Cities) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "请提供城市列表")
		return
	}
	if len(req.Cities) > maxBatchCities {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "城市太多啦，一次最多查询20个城市")
		return
	}
	ok(c, http.StatusOK, h.Weather.Batch(c.Request.Context(), req.Cities))
}
