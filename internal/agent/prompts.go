package agent

import (
	"fmt"
	"strings"

	"github.com/carelink/carelink-ai/internal/checkin"
)

const systemPrompt = `你是一个专业的健康管理助手，负责帮助用户管理慢性病。

你的职责：
1. 回答健康相关问题（基于知识库）
2. 分析用户症状并给出建议
3. 提供用药咨询
4. 协助用户完成健康打卡
5. 保持友好、专业的对话态度

重要约束：
- 所有医疗建议必须在末尾添加："此建议仅供参考，请咨询专业医生。"
- 回答长度控制在 100-300 字
- 避免重复回答
- 如果信息不足，主动询问澄清`

const greetingReply = "你好！我是你的健康管理助手，很高兴为你服务。你可以问我健康相关的问题，或者告诉我你今天的健康数据。"

const unknownReply = `抱歉，我不太理解你的意思。

你可以：
1. 询问健康相关问题
2. 告诉我你的健康数据（如"今天血压 130/80"）
3. 咨询用药问题
4. 描述症状寻求建议

请问我可以如何帮助你？`

const errorReply = "抱歉，我遇到了一些问题，请稍后再试。"

const checkinFailedReply = "抱歉，打卡记录失败，请稍后再试。"

var clarificationPrompts = map[checkin.Kind]string{
	checkin.KindBloodPressure: "请告诉我您的血压数据，格式如：130/80",
	checkin.KindBloodSugar:    "请告诉我您的血糖值，例如：空腹血糖 5.6",
	checkin.KindMedication:    "请确认您是否已按时服药？",
	checkin.KindExercise:      "请告诉我您今天运动了多久，或走了多少步？",
	checkin.KindDiet:          "请告诉我您吃的是哪一餐（早餐/午餐/晚餐）？",
}

func clarificationPrompt(kind checkin.Kind) string {
	if prompt, ok := clarificationPrompts[kind]; ok {
		return prompt
	}
	return "请提供更详细的打卡信息。"
}

var sugarTimingNames = map[string]string{
	checkin.TimingFasting:     "空腹",
	checkin.TimingBeforeMeal:  "餐前",
	checkin.TimingAfterMeal:   "餐后",
	checkin.TimingBeforeSleep: "睡前",
	checkin.TimingUnknown:     "未知",
}

var mealNames = map[string]string{
	"breakfast": "早餐",
	"lunch":     "午餐",
	"dinner":    "晚餐",
	"snack":     "加餐",
}

// confirmationReply renders the success message for one extracted checkin.
func confirmationReply(rec *checkin.Record) string {
	switch rec.Kind {
	case checkin.KindBloodPressure:
		var b strings.Builder
		fmt.Fprintf(&b, "✅ 血压打卡成功！\n收缩压：%v mmHg\n舒张压：%v mmHg",
			rec.Fields["systolic"], rec.Fields["diastolic"])
		if hr, ok := rec.Fields["heart_rate"]; ok {
			fmt.Fprintf(&b, "\n心率：%v bpm", hr)
		}
		b.WriteString("\n\n保持良好的血压监测习惯！")
		return b.String()

	case checkin.KindBloodSugar:
		timing, _ := rec.Fields["timing"].(string)
		if name, ok := sugarTimingNames[timing]; ok {
			timing = name
		}
		return fmt.Sprintf("✅ 血糖打卡成功！\n血糖值：%v mmol/L\n测量时机：%s\n\n继续保持血糖监测！",
			rec.Fields["value"], timing)

	case checkin.KindMedication:
		return "✅ 用药打卡成功！\n\n按时服药很重要，继续保持！"

	case checkin.KindExercise:
		var b strings.Builder
		b.WriteString("✅ 运动打卡成功！")
		if d, ok := rec.Fields["duration"]; ok {
			fmt.Fprintf(&b, "\n运动时长：%v 分钟", d)
		}
		if steps, ok := rec.Fields["steps"]; ok {
			fmt.Fprintf(&b, "\n步数：%v 步", steps)
		}
		b.WriteString("\n\n坚持运动，健康生活！")
		return b.String()

	case checkin.KindDiet:
		meal := "未指定"
		if m, ok := rec.Fields["meal_type"].(string); ok {
			meal = m
			if name, ok := mealNames[m]; ok {
				meal = name
			}
		}
		return fmt.Sprintf("✅ 饮食打卡成功！\n餐次：%s\n\n合理饮食，健康每一天！", meal)
	}

	return "✅ 打卡成功！"
}
